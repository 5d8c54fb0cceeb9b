// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package apiserver

import (
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	configPatchCounter metric.Int64Counter
	tokenIssuedCounter metric.Int64Counter
	routingMissCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/orgcore/apiserver")

	var err error

	configPatchCounter, err = meter.Int64Counter(
		"orgcore.config.patches",
		metric.WithDescription("Number of committed configuration patches"),
	)
	if err != nil {
		log.Fatalf("failed to create config.patches counter: %v", err)
	}

	tokenIssuedCounter, err = meter.Int64Counter(
		"orgcore.tokens.issued",
		metric.WithDescription("Number of bearer tokens issued"),
	)
	if err != nil {
		log.Fatalf("failed to create tokens.issued counter: %v", err)
	}

	routingMissCounter, err = meter.Int64Counter(
		"orgcore.routing.misses",
		metric.WithDescription("Number of routing lookups that exhausted every identifier"),
	)
	if err != nil {
		log.Fatalf("failed to create routing.misses counter: %v", err)
	}
}
