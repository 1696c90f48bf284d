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

	"github.com/mackerelio/go-osstat/memory"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	namespace string = "plainrtc"

	StatsUpdateInterval = 10 * time.Second
)

var (
	initialized atomic.Bool

	MessageCounter          *prometheus.CounterVec
	ServiceOperationCounter *prometheus.CounterVec

	promCPULoad    prometheus.Gauge
	promMemoryLoad prometheus.Gauge
	promLoadAvg    *prometheus.GaugeVec
)

type NodeStats struct {
	StartedAt int64 `json:"startedAt"`
	UpdatedAt int64 `json:"updatedAt"`

	NumRooms        int32 `json:"numRooms"`
	NumParticipants int32 `json:"numParticipants"`
	NumConnections  int32 `json:"numConnections"`

	MessagesIn        uint64  `json:"messagesIn"`
	MessagesOut       uint64  `json:"messagesOut"`
	MessagesInPerSec  float32 `json:"messagesInPerSec"`
	MessagesOutPerSec float32 `json:"messagesOutPerSec"`

	NumCPUs          uint32  `json:"numCpus"`
	CPULoad          float32 `json:"cpuLoad"`
	LoadAvgLast1Min  float32 `json:"loadAvgLast1Min"`
	LoadAvgLast5Min  float32 `json:"loadAvgLast5Min"`
	LoadAvgLast15Min float32 `json:"loadAvgLast15Min"`
	MemoryLoad       float32 `json:"memoryLoad"`
}

func Init(nodeID string) {
	if initialized.Swap(true) {
		return
	}

	MessageCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "messages",
			ConstLabels: prometheus.Labels{"node_id": nodeID},
		},
		[]string{"protocol", "type", "status"},
	)

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "node",
			Name:        "service_operation",
			ConstLabels: prometheus.Labels{"node_id": nodeID},
		},
		[]string{"type", "status", "error_type"},
	)

	promCPULoad = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "node",
		Name:        "cpu_load",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	})
	promMemoryLoad = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "node",
		Name:        "memory_load",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	})
	promLoadAvg = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "node",
		Name:        "load_avg",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, []string{"window"})

	prometheus.MustRegister(MessageCounter)
	prometheus.MustRegister(ServiceOperationCounter)
	prometheus.MustRegister(promCPULoad)
	prometheus.MustRegister(promMemoryLoad)
	prometheus.MustRegister(promLoadAvg)

	initRoomStats(nodeID)
}

func getMemoryStats() (memoryLoad float32, err error) {
	memInfo, err := memory.Get()
	if err != nil {
		return
	}

	if memInfo.Total != 0 {
		memoryLoad = float32(memInfo.Used) / float32(memInfo.Total)
	}
	return
}

func GetUpdatedNodeStats(prev *NodeStats) (*NodeStats, error) {
	loadAvg, err := getLoadAvg()
	if err != nil {
		return nil, err
	}

	cpuLoad, numCPUs, err := getCPUStats()
	if err != nil {
		return nil, err
	}

	// memory stats are unavailable on some platforms, use them if present
	memoryLoad, _ := getMemoryStats()

	messagesInNow := messagesIn.Load()
	messagesOutNow := messagesOut.Load()

	updatedAt := time.Now().Unix()
	stats := &NodeStats{
		StartedAt:        prev.StartedAt,
		UpdatedAt:        updatedAt,
		NumRooms:         roomCurrent.Load(),
		NumParticipants:  participantCurrent.Load(),
		NumConnections:   connectionCurrent.Load(),
		MessagesIn:       messagesInNow,
		MessagesOut:      messagesOutNow,
		NumCPUs:          numCPUs,
		CPULoad:          cpuLoad,
		LoadAvgLast1Min:  float32(loadAvg.Loadavg1),
		LoadAvgLast5Min:  float32(loadAvg.Loadavg5),
		LoadAvgLast15Min: float32(loadAvg.Loadavg15),
		MemoryLoad:       memoryLoad,
	}
	if elapsed := updatedAt - prev.UpdatedAt; prev.UpdatedAt > 0 && elapsed > 0 {
		stats.MessagesInPerSec = perSec(prev.MessagesIn, messagesInNow, elapsed)
		stats.MessagesOutPerSec = perSec(prev.MessagesOut, messagesOutNow, elapsed)
	}

	if initialized.Load() {
		promCPULoad.Set(float64(cpuLoad))
		promMemoryLoad.Set(float64(memoryLoad))
		promLoadAvg.WithLabelValues("1m").Set(loadAvg.Loadavg1)
		promLoadAvg.WithLabelValues("5m").Set(loadAvg.Loadavg5)
		promLoadAvg.WithLabelValues("15m").Set(loadAvg.Loadavg15)
	}

	return stats, nil
}

func perSec(prev, curr uint64, secs int64) float32 {
	return float32(curr-prev) / float32(secs)
}
