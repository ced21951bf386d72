/*
Copyright 2024 Tally Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/tallyfinance/tally/api"
	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/database"
	trace "github.com/tallyfinance/tally/internal/traces"
)

/*
serveTLS starts an HTTPS server on port with certificates managed by CertMagic.
If no domain is specified, the server will default to running on localhost.
*/
func serveTLS(r *gin.Engine, conf config.ServerConfig, port string) error {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(context.Background(), domains); err != nil {
		return err
	}

	server := &http.Server{
		Addr:      ":" + port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}

	log.Printf("Starting HTTPS server on %s\n", port)
	if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func startServer(router *gin.Engine, cfg config.ServerConfig, port string) error {
	if cfg.SSL {
		return serveTLS(router, cfg, port)
	}
	log.Printf("Starting server on http://localhost:%s", port)
	return router.Run(":" + port)
}

func initializeObservability(ctx context.Context, cfg *config.Configuration, service string) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := trace.SetupOTelSDK(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

// serverCommands returns the `start` command, which runs the account service.
func serverCommands(app *tallyInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the account service",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			cfg := app.cnf

			shutdown, err := initializeObservability(ctx, cfg, "tally-accounts")
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			db, err := database.NewAccountDataSource(cfg)
			if err != nil {
				log.Fatalf("error getting accounts datasource: %v", err)
			}
			defer db.Close()

			rdb, err := connectRedis(cfg)
			if err != nil {
				log.Fatal(err)
			}
			defer rdb.Close()

			router := api.NewAPI(setupTally(app, db, rdb)).Router()
			if err := startServer(router, cfg.Server, cfg.Server.Port); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
