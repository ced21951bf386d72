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

/*
Package main provides the CLI commands for managing database migrations.
Each service owns its database, so migrations run against one target at a time.
*/
package main

import (
	"embed"
	"fmt"
	"log"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/tallyfinance/tally"
	"github.com/tallyfinance/tally/config"
	"github.com/tallyfinance/tally/database"
)

const (
	targetAccounts = "accounts"
	targetLedger   = "ledger"
)

// migrationTarget resolves the embedded migrations and the connection string for target.
func migrationTarget(target string, cnf *config.Configuration) (migrate.MigrationSource, string, error) {
	var files embed.FS
	var dns string
	switch target {
	case targetAccounts:
		files, dns = tally.AccountsSQLFiles, cnf.AccountsDataSource.Dns
	case targetLedger:
		files, dns = tally.LedgerSQLFiles, cnf.LedgerDataSource.Dns
	default:
		return nil, "", fmt.Errorf("unknown migration target %q, expected %s or %s", target, targetAccounts, targetLedger)
	}
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: files,
		Root:       "sql/" + target,
	}, dns, nil
}

func runMigrations(app *tallyInstance, target string, direction migrate.MigrationDirection) (int, error) {
	migrations, dns, err := migrationTarget(target, app.cnf)
	if err != nil {
		return 0, err
	}

	db, err := database.ConnectDB(dns)
	if err != nil {
		return 0, fmt.Errorf("error connecting to database: %v", err)
	}
	defer db.Close()

	return migrate.Exec(db, "postgres", migrations, direction)
}

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(app *tallyInstance) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run tally database migrations",
	}
	cmd.PersistentFlags().StringVar(&target, "target", targetAccounts, "database to migrate: accounts or ledger")

	cmd.AddCommand(&cobra.Command{
		Use: "up",
		Run: func(cmd *cobra.Command, args []string) {
			n, err := runMigrations(app, target, migrate.Up)
			if err != nil {
				log.Printf("Error migrating up: %v", err)
				return
			}
			fmt.Printf("Applied %d migrations to %s!\n", n, target)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "down",
		Run: func(cmd *cobra.Command, args []string) {
			n, err := runMigrations(app, target, migrate.Down)
			if err != nil {
				log.Printf("Error migrating down: %v", err)
				return
			}
			fmt.Printf("Rolled back %d migrations from %s!\n", n, target)
		},
	})

	return cmd
}
