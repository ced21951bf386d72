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

package middleware

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"

	"github.com/tallyfinance/tally/config"
)

const SecretKeyHeader = "X-Tally-Key"

// KeyAuth admits requests that present key in SecretKeyHeader. Each service is built with
// its own key, so a ledger key does not open the account API.
func KeyAuth(service, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s secret key is not configured", service)})
			return
		}

		presented := c.GetHeader(SecretKeyHeader)
		switch {
		case presented == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing secret key"})
		case subtle.ConstantTimeCompare([]byte(key), []byte(presented)) != 1:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret key"})
		default:
			c.Next()
		}
	}
}

// ClientRateLimit limits each client address across every route of a service.
func ClientRateLimit(conf config.RateLimitConfig) gin.HandlerFunc {
	lmt := newLimiter(conf.RequestsPerSecond, conf.Burst, conf.CleanupIntervalSec)
	return limitBy(lmt, func(c *gin.Context) string { return c.ClientIP() })
}

// AccountRateLimit limits deposits and withdrawals per target account, taken from the
// account_id of the JSON body. Writes past the limit are turned away before they contend
// on the account's version. Bodies without an account id go on to validation.
func AccountRateLimit(conf config.RateLimitConfig) gin.HandlerFunc {
	lmt := newLimiter(conf.AccountRequestsPerSecond, conf.AccountBurst, conf.CleanupIntervalSec)
	return limitBy(lmt, bodyAccountID)
}

func newLimiter(rps *float64, burst, cleanupSec *int) *limiter.Limiter {
	if rps == nil {
		return nil
	}
	ttl := time.Hour
	if cleanupSec != nil {
		ttl = time.Duration(*cleanupSec) * time.Second
	}
	lmt := tollbooth.NewLimiter(*rps, &limiter.ExpirableOptions{DefaultExpirationTTL: ttl})
	if burst != nil {
		lmt.SetBurst(*burst)
	}
	return lmt
}

func limitBy(lmt *limiter.Limiter, key func(c *gin.Context) string) gin.HandlerFunc {
	if lmt == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		k := key(c)
		if k == "" {
			c.Next()
			return
		}
		if httpError := tollbooth.LimitByKeys(lmt, []string{k}); httpError != nil {
			c.AbortWithStatusJSON(httpError.StatusCode, gin.H{"error": httpError.Message, "code": "RATE_LIMITED"})
			return
		}
		c.Next()
	}
}

// bodyAccountID peeks at the account_id of a JSON body and leaves the body readable.
func bodyAccountID(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	var body struct {
		AccountID json.Number `json:"account_id"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	return body.AccountID.String()
}
