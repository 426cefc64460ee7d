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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePaymentEvent(t *testing.T) {
	valid := PaymentEvent{
		Type: PaymentEventSucceeded,
		Data: PaymentIntent{
			ID:          "pi_1",
			Network:     "alfajores",
			Beneficiary: "0x000000000000000000000000000000000000dEaD",
		},
	}
	assert.NoError(t, valid.ValidatePaymentEvent())

	missingID := valid
	missingID.Data.ID = ""
	assert.Error(t, missingID.ValidatePaymentEvent())

	badAddress := valid
	badAddress.Data.Beneficiary = "dEaD"
	assert.Error(t, badAddress.ValidatePaymentEvent())
}

func TestValidateCreateDrip(t *testing.T) {
	valid := CreateDrip{Beneficiary: "0x000000000000000000000000000000000000dEaD"}
	assert.NoError(t, valid.ValidateCreateDrip())

	assert.Error(t, (&CreateDrip{}).ValidateCreateDrip())
	assert.Error(t, (&CreateDrip{Beneficiary: "0x12"}).ValidateCreateDrip())
}
