package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/galdor/go-simnet/pkg/simnet"
	"github.com/galdor/go-simnet/pkg/simulation"
	"github.com/pterm/pterm"
)

func renderResult(result *simulation.Result) error {
	if result.Election != nil {
		if err := renderElection(result.Election); err != nil {
			return err
		}
	} else {
		table := pterm.DefaultTable.WithHasHeader().
			WithData(deliveryTableData(result))
		if err := table.Render(); err != nil {
			return err
		}
	}

	stats := result.Stats
	pterm.Info.Printfln("%d sent, %d delivered, %d dropped, %d queued",
		stats.Sent, stats.Delivered, stats.Dropped, stats.Queued)

	return nil
}

func renderElection(result *simulation.ElectionResult) error {
	table := pterm.DefaultTable.WithHasHeader().
		WithData(electionTableData(result))

	return table.Render()
}

func deliveryTableData(result *simulation.Result) pterm.TableData {
	ids := make([]simnet.ProcessId, 0, len(result.Deliveries))
	for id := range result.Deliveries {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	data := pterm.TableData{{"Process", "Deliveries", "Pending"}}

	for _, id := range ids {
		pending := strconv.Itoa(result.Pending[id])
		if result.Pending[id] > 0 {
			pending = pterm.LightRed(pending)
		}

		data = append(data, []string{
			id.String(),
			strings.Join(result.Deliveries[id], ", "),
			pending,
		})
	}

	return data
}

func electionTableData(result *simulation.ElectionResult) pterm.TableData {
	data := pterm.TableData{{"Process", "Status", "Level", "Relay", "Contacts"}}

	for _, state := range result.States {
		status := string(state.Status)
		switch state.Status {
		case simnet.ElectionStatusElected:
			status = pterm.LightGreen(status)
		case simnet.ElectionStatusWithdrawn:
			status = pterm.LightRed(status)
		}

		contacts := make([]string, len(state.History))
		for i, record := range state.History {
			contacts[i] = fmt.Sprintf("%d:%d", record.Level, record.Contacted)
		}

		level := "-"
		if state.CandidateLevel >= 0 {
			level = strconv.Itoa(state.CandidateLevel)
		}

		data = append(data, []string{
			state.Id.String(),
			status,
			level,
			state.Relay.String(),
			strings.Join(contacts, " "),
		})
	}

	return data
}
