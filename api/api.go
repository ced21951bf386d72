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

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tallyfinance/tally"
	"github.com/tallyfinance/tally/api/middleware"
	"github.com/tallyfinance/tally/config"
)

// Api serves the account service.
type Api struct {
	tally  *tally.Tally
	router *gin.Engine
	// mutationLimit throttles writes per account on the deposit and withdraw routes.
	mutationLimit gin.HandlerFunc
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/accounts", a.CreateAccount)
	router.GET("/accounts/:id", a.GetAccount)
	router.GET("/accounts", a.GetAllAccounts)
	router.DELETE("/accounts/:id", a.DeleteAccount)

	router.POST("/accounts/deposit", a.mutationLimit, a.Deposit)
	router.POST("/accounts/withdraw", a.mutationLimit, a.Withdraw)
	return a.router
}

func NewAPI(t *tally.Tally) *Api {
	server, limits := settings()
	return &Api{
		tally:         t,
		router:        newRouter("tally-accounts", server.Secure, server.SecretKey, limits),
		mutationLimit: middleware.AccountRateLimit(limits),
	}
}

// LedgerApi serves the transaction ledger.
type LedgerApi struct {
	writer *tally.LedgerWriter
	router *gin.Engine
}

func (a LedgerApi) Router() *gin.Engine {
	router := a.router
	router.POST("/transactions", a.LogTransaction)
	router.GET("/transactions/account/:account_id", a.GetTransactionsByAccount)
	return a.router
}

func NewLedgerAPI(w *tally.LedgerWriter) *LedgerApi {
	server, limits := settings()
	return &LedgerApi{
		writer: w,
		router: newRouter("tally-ledger", server.Secure, server.LedgerSecretKey, limits),
	}
}

// settings returns zero values when no configuration is loaded, which disables auth and limits.
func settings() (config.ServerConfig, config.RateLimitConfig) {
	conf, err := config.Fetch()
	if err != nil {
		return config.ServerConfig{}, config.RateLimitConfig{}
	}
	return conf.Server, conf.RateLimit
}

func newRouter(service string, secure bool, key string, limits config.RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(service), middleware.ClientRateLimit(limits))
	if secure {
		r.Use(middleware.KeyAuth(service, key))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})
	return r
}
