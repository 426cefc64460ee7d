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
package model

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var hexAddressRule = validation.Match(regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)).
	Error("must be a 0x-prefixed 40-hex-character address")

// PaymentEventSucceeded is the only payment event type that creates a
// request.
const PaymentEventSucceeded = "payment_intent.succeeded"

// PaymentIntent is the slice of the payment processor's intent object the
// faucet cares about.
type PaymentIntent struct {
	ID          string `json:"id"`
	Network     string `json:"network"`
	Beneficiary string `json:"beneficiary"`
}

// PaymentEvent is the webhook body delivered by the payment processor.
// Signature verification happens upstream; only the shape is checked here.
type PaymentEvent struct {
	Type string        `json:"type"`
	Data PaymentIntent `json:"data"`
}

func (e *PaymentEvent) ValidatePaymentEvent() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.Type, validation.Required),
		validation.Field(&e.Data, validation.By(func(value interface{}) error {
			intent := value.(PaymentIntent)
			return validation.ValidateStruct(&intent,
				validation.Field(&intent.ID, validation.Required),
				validation.Field(&intent.Network, validation.Required),
				validation.Field(&intent.Beneficiary, validation.Required, hexAddressRule),
			)
		})),
	)
}

// CreateDrip is the manual drip payload: fund this beneficiary on the
// network named in the route.
type CreateDrip struct {
	Beneficiary string `json:"beneficiary"`
}

func (d *CreateDrip) ValidateCreateDrip() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Beneficiary, validation.Required, hexAddressRule),
	)
}
