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

package routing

import (
	"sync"
	"time"

	"github.com/plainclass/plain-rtc/pkg/logger"
	"github.com/plainclass/plain-rtc/pkg/telemetry/prometheus"
	"github.com/plainclass/plain-rtc/pkg/utils"
)

// LocalNode describes this server process and keeps its latest load sample.
type LocalNode struct {
	lock  sync.RWMutex
	id    string
	stats *prometheus.NodeStats
}

func NewLocalNode() *LocalNode {
	now := time.Now().Unix()
	return &LocalNode{
		id: utils.NewGuid(utils.NodePrefix),
		stats: &prometheus.NodeStats{
			StartedAt: now,
			UpdatedAt: now,
		},
	}
}

func (l *LocalNode) NodeID() string {
	return l.id
}

func (l *LocalNode) Stats() prometheus.NodeStats {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return *l.stats
}

func (l *LocalNode) UpdateNodeStats() bool {
	l.lock.Lock()
	defer l.lock.Unlock()

	updated, err := prometheus.GetUpdatedNodeStats(l.stats)
	if err != nil {
		logger.Errorw("could not update node stats", err)
		return false
	}
	l.stats = updated
	return true
}

func (l *LocalNode) SecondsSinceNodeStatsUpdate() float64 {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return time.Since(time.Unix(l.stats.UpdatedAt, 0)).Seconds()
}
