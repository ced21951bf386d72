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
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	model2 "github.com/tallyfinance/tally/api/model"
	"github.com/tallyfinance/tally/model"
)

func (a Api) Deposit(c *gin.Context) {
	a.changeBalance(c, a.tally.Deposit)
}

func (a Api) Withdraw(c *gin.Context) {
	a.changeBalance(c, a.tally.Withdraw)
}

func (a Api) changeBalance(c *gin.Context, apply func(context.Context, int64, decimal.Decimal) (*model.Account, error)) {
	var change model2.BalanceChange
	if err := c.ShouldBindJSON(&change); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := change.ValidateBalanceChange(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	account, err := apply(c.Request.Context(), change.AccountID, change.DecimalAmount())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}
