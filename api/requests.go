/*
Copyright 2024 Blnk Finance Authors.

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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/faucet"
	model2 "github.com/blnkfinance/faucet/api/model"
	"github.com/blnkfinance/faucet/config"
	"github.com/blnkfinance/faucet/internal/apierror"
	"github.com/blnkfinance/faucet/model"
)

// HandlePaymentWebhook ingests a payment processor event. A succeeded
// payment intent becomes a funding request keyed by the intent id, so
// redelivered events collapse onto the same record.
//
// Responses:
// - 400 Bad Request: malformed body or unknown network.
// - 200 OK: event ignored, or request already existed.
// - 201 Created: a new request was recorded and queued.
func (a Api) HandlePaymentWebhook(c *gin.Context) {
	var event model2.PaymentEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if event.Type != model2.PaymentEventSucceeded {
		c.JSON(http.StatusOK, gin.H{"message": "event ignored"})
		return
	}

	if err := event.ValidatePaymentEvent(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, ok := conf.Networks[event.Data.Network]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown network: " + event.Data.Network})
		return
	}

	req, created, err := a.faucet.CreateRequest(c.Request.Context(), event.Data.Network, event.Data.ID, event.Data.Beneficiary, model.RequestTypeTransfer)
	if err != nil {
		logrus.Errorf("failed to record payment request %s: %v", event.Data.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !created {
		c.JSON(http.StatusOK, req)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// CreateDrip records a funding request directly, without a payment event.
// The request id is generated server side.
func (a Api) CreateDrip(c *gin.Context) {
	network, ok := resolveNetwork(c)
	if !ok {
		return
	}

	var drip model2.CreateDrip
	if err := c.ShouldBindJSON(&drip); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := drip.ValidateCreateDrip(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	id := model.GenerateUUIDWithSuffix("req")
	req, _, err := a.faucet.CreateRequest(c.Request.Context(), network, id, drip.Beneficiary, model.RequestTypeTransfer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, req)
}

// GetRequest returns the current state of a funding request.
func (a Api) GetRequest(c *gin.Context) {
	network, ok := resolveNetwork(c)
	if !ok {
		return
	}
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:network/requests/:id"})
		return
	}

	req, err := a.faucet.GetRequest(c.Request.Context(), network, id)
	if err != nil {
		if errors.Is(err, faucet.ErrRequestNotFound) {
			apiErr := apierror.NewAPIError(apierror.ErrNotFound, "request not found", id)
			c.JSON(apierror.MapErrorToHTTPStatus(apiErr), gin.H{"error": apiErr.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, req)
}

// GetAccounts returns a snapshot of the network's account pool, lock
// state included. Useful for operators watching pool pressure.
func (a Api) GetAccounts(c *gin.Context) {
	network, ok := resolveNetwork(c)
	if !ok {
		return
	}

	pool := faucet.NewAccountPool(a.faucet.Store(), network, faucet.PoolOptions{})
	accounts, err := pool.Accounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, accounts)
}
