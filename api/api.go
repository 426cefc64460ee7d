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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/faucet"
	"github.com/blnkfinance/faucet/api/middleware"
	"github.com/blnkfinance/faucet/config"
)

type Api struct {
	faucet *faucet.Faucet
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/webhooks/payment", a.HandlePaymentWebhook)

	router.POST("/:network/requests", a.CreateDrip)
	router.GET("/:network/requests/:id", a.GetRequest)
	router.GET("/:network/accounts", a.GetAccounts)

	return a.router
}

func NewAPI(f *faucet.Faucet) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{faucet: f, router: r}
}

// resolveNetwork rejects requests for networks the faucet is not
// configured to fund.
func resolveNetwork(c *gin.Context) (string, bool) {
	network, passed := c.Params.Get("network")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "network is required. pass it in the route /:network"})
		return "", false
	}
	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return "", false
	}
	if _, ok := conf.Networks[network]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown network: " + network})
		return "", false
	}
	return network, true
}
