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

package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/plainclass/plain-rtc/pkg/auth"
	"github.com/plainclass/plain-rtc/pkg/config"
	"github.com/plainclass/plain-rtc/pkg/service"
	"github.com/plainclass/plain-rtc/pkg/utils"
)

const (
	devAPIKey    = "devkey"
	devAPISecret = "secret"

	defaultTokenValidity = 30 * 24 * time.Hour
	listRoomsTimeout     = 10 * time.Second
)

func generateKeys(_ *cli.Context) error {
	apiKey := utils.NewGuid(utils.APIKeyPrefix)
	secret := utils.RandomSecret()
	fmt.Println("API Key: ", apiKey)
	fmt.Println("API Secret: ", secret)
	return nil
}

func printPorts(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	fmt.Println("TCP Ports")
	fmt.Printf("%d - HTTP service, /ws/meeting and /ws/chat\n", conf.Port)
	if conf.PrometheusPort > 0 {
		fmt.Printf("%d - Prometheus metrics\n", conf.PrometheusPort)
	}
	return nil
}

func helpVerbose(c *cli.Context) error {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, false)
	if err != nil {
		return err
	}

	c.App.Flags = append(baseFlags, generatedFlags...)
	return cli.ShowAppHelp(c)
}

func createToken(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	if err = conf.ValidateKeys(); err != nil {
		return err
	}

	apiKey, apiSecret := firstKey(conf.Keys)
	grant := &auth.RoomGrant{
		Room:       c.String("room"),
		RoomCreate: c.Bool("create"),
		RoomAdmin:  c.Bool("admin"),
	}

	token, err := auth.NewAccessToken(apiKey, apiSecret).
		AddGrant(grant).
		SetIdentity(c.String("identity")).
		SetName(c.String("name")).
		SetValidFor(c.Duration("valid-for")).
		ToJWT()
	if err != nil {
		return err
	}

	fmt.Println("Token:", token)
	return nil
}

// firstKey picks deterministically so repeated runs sign with the same key.
func firstKey(keys map[string]string) (string, string) {
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	return names[0], keys[names[0]]
}

func listRooms(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	if !conf.Redis.IsConfigured() {
		return errors.New("list-rooms reads from redis, configure redis.address first")
	}

	store, err := service.InitializeRoomStore(conf)
	if err != nil {
		return errors.Wrap(err, "could not open room store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), listRoomsTimeout)
	defer cancel()

	rooms, err := store.ListRooms(ctx)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{
		"ID", "Title", "Host", "Status", "Participants", "Created", "Closed",
	})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_CENTER, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})

	for _, room := range rooms {
		if !c.Bool("all") && !room.IsActive() {
			continue
		}

		participants := "-"
		if room.IsActive() {
			if ids, err := store.LoadParticipants(ctx, room.ID); err == nil {
				participants = strconv.Itoa(len(ids))
			}
		}
		closed := "-"
		if room.ClosedAt != nil {
			closed = humanize.Time(*room.ClosedAt)
		}

		table.Append([]string{
			room.ID, room.Title, room.HostID, string(room.Status),
			participants, humanize.Time(room.CreatedAt), closed,
		})
	}
	table.Render()

	return nil
}
