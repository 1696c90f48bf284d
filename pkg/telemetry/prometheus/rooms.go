// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

var (
	roomCurrent        atomic.Int32
	participantCurrent atomic.Int32
	connectionCurrent  atomic.Int32
	messagesIn         atomic.Uint64
	messagesOut        atomic.Uint64

	promRoomCurrent        prometheus.Gauge
	promRoomDuration       prometheus.Histogram
	promParticipantCurrent prometheus.Gauge
	promConnectionCurrent  *prometheus.GaugeVec
	promDeliveryFailures   *prometheus.CounterVec
	promSessionDuration    *prometheus.HistogramVec
)

func initRoomStats(nodeID string) {
	promRoomCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "room",
		Name:        "total",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	})
	promRoomDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   "room",
		Name:        "duration_seconds",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
		Buckets: []float64{
			5, 10, 60, 5 * 60, 10 * 60, 30 * 60, 60 * 60, 2 * 60 * 60, 5 * 60 * 60, 10 * 60 * 60,
		},
	})
	promParticipantCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "participant",
		Name:        "total",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	})
	promConnectionCurrent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "connection",
		Name:        "total",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, []string{"protocol"})
	promDeliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "connection",
		Name:        "delivery_failures",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, []string{"protocol", "reason"})
	promSessionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   "session",
		Name:        "duration_ms",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
		Buckets:     prometheus.ExponentialBucketsRange(100, 4*60*60*1000, 15),
	}, []string{"protocol"})

	prometheus.MustRegister(promRoomCurrent)
	prometheus.MustRegister(promRoomDuration)
	prometheus.MustRegister(promParticipantCurrent)
	prometheus.MustRegister(promConnectionCurrent)
	prometheus.MustRegister(promDeliveryFailures)
	prometheus.MustRegister(promSessionDuration)
}

// the helpers below are safe to call before Init; only the local counters move

func RoomStarted() {
	roomCurrent.Inc()
	if initialized.Load() {
		promRoomCurrent.Add(1)
	}
}

func RoomEnded(startedAt time.Time) {
	roomCurrent.Dec()
	if !initialized.Load() {
		return
	}
	if !startedAt.IsZero() {
		promRoomDuration.Observe(float64(time.Since(startedAt)) / float64(time.Second))
	}
	promRoomCurrent.Sub(1)
}

func AddParticipant() {
	participantCurrent.Inc()
	if initialized.Load() {
		promParticipantCurrent.Add(1)
	}
}

func SubParticipant() {
	participantCurrent.Dec()
	if initialized.Load() {
		promParticipantCurrent.Sub(1)
	}
}

func AddConnection(protocol string) {
	connectionCurrent.Inc()
	if initialized.Load() {
		promConnectionCurrent.WithLabelValues(protocol).Add(1)
	}
}

func SubConnection(protocol string, connectedAt time.Time) {
	connectionCurrent.Dec()
	if initialized.Load() {
		promConnectionCurrent.WithLabelValues(protocol).Sub(1)
		promSessionDuration.WithLabelValues(protocol).Observe(float64(time.Since(connectedAt).Milliseconds()))
	}
}

func MessageReceived(protocol, msgType, status string) {
	messagesIn.Inc()
	if initialized.Load() {
		MessageCounter.WithLabelValues(protocol, msgType, status).Inc()
	}
}

func MessagesSent(count int) {
	messagesOut.Add(uint64(count))
}

func DeliveryFailed(protocol, reason string) {
	if initialized.Load() {
		promDeliveryFailures.WithLabelValues(protocol, reason).Inc()
	}
}

func RecordServiceOperation(op string, err error, errorType string) {
	if !initialized.Load() {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	ServiceOperationCounter.WithLabelValues(op, status, errorType).Inc()
}
