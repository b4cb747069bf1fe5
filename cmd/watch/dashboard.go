// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/quickly-quorum/models"
	"github.com/danielhkuo/quickly-quorum/quorum"
	"github.com/danielhkuo/quickly-quorum/stream"
)

// source is the part of client.View the dashboard reads.
type source interface {
	AssemblyID() string
	Quorum(ctx context.Context) (models.QuorumSnapshot, error)
	Agendas(ctx context.Context) ([]models.Agenda, error)
	Results(ctx context.Context, agendaID string) (models.AgendaResults, error)
	Attendance(ctx context.Context) ([]models.AttendanceItem, error)
	StreamState() stream.State
	LastHeartbeat() time.Time
}

type dashboard struct {
	view     source
	operator bool
	out      io.Writer
}

func (d *dashboard) render(ctx context.Context) error {
	q, err := d.view.Quorum(ctx)
	if err != nil {
		return fmt.Errorf("quorum: %w", err)
	}
	agendas, err := d.view.Agendas(ctx)
	if err != nil {
		return fmt.Errorf("agendas: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "== Assembly %s ==\n", d.view.AssemblyID())
	fmt.Fprintf(&b, "Stream: %s", d.view.StreamState())
	if hb := d.view.LastHeartbeat(); !hb.IsZero() {
		fmt.Fprintf(&b, " (heartbeat %s)", humanize.Time(hb))
	}
	b.WriteString("\n")

	verdict := "not reached"
	if q.QuorumReached {
		verdict = "REACHED"
	}
	fmt.Fprintf(&b, "Quorum: %s of %s units present, %s%% of ideal fraction, %s\n",
		humanize.Comma(int64(q.UnitsPresent)),
		humanize.Comma(int64(q.TotalUnits)),
		humanize.FtoaWithDigits(quorum.DisplayFraction(q.FractionPresent), 2),
		verdict,
	)

	if d.operator {
		attendance, err := d.view.Attendance(ctx)
		if err != nil {
			return fmt.Errorf("attendance: %w", err)
		}
		fmt.Fprintf(&b, "Check-ins: %s\n", humanize.Comma(int64(len(attendance))))
	}

	open := openAgenda(agendas)
	if open == nil {
		b.WriteString("No agenda open\n")
	} else {
		res, err := d.view.Results(ctx, open.ID)
		if err != nil {
			return fmt.Errorf("results: %w", err)
		}
		fmt.Fprintf(&b, "Open: %s (%s of %s units voted)\n", open.Title,
			humanize.Comma(int64(res.TotalUnitsVoted)),
			humanize.Comma(int64(res.TotalUnitsPresent)),
		)
		for _, r := range res.Results {
			fmt.Fprintf(&b, "  %-20s %6s votes  %6s%%\n", r.OptionText,
				humanize.Comma(int64(r.VotesCount)),
				humanize.FtoaWithDigits(r.Percentage, 2),
			)
		}
	}

	_, err = io.WriteString(d.out, b.String())
	return err
}

// openAgenda picks the open agenda the server would: lowest display
// order first. Agendas arrive sorted by display order.
func openAgenda(agendas []models.Agenda) *models.Agenda {
	for i := range agendas {
		if agendas[i].Status == models.StatusOpen {
			return &agendas[i]
		}
	}
	return nil
}
