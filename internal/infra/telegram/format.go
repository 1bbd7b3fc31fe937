package telegram

import (
	"fmt"
	"strings"
	"time"

	"tranche_investor/internal/app"
	"tranche_investor/internal/domain/investment"
	"tranche_investor/internal/domain/notification"

	"github.com/shopspring/decimal"
)

const displayLayout = "2006-01-02 15:04"

func rupees(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}

// formatError renders a service error for the operator with its kind.
func formatError(err error) string {
	return fmt.Sprintf("%s: %s", investment.KindOf(err), err.Error())
}

func formatCreated(res *app.CreateCycleResult, loc *time.Location) string {
	var b strings.Builder
	c := res.Cycle
	fmt.Fprintf(&b, "Cycle %d created for %s", c.ID, c.Symbol)
	if c.DisplayName != "" {
		fmt.Fprintf(&b, " (%s)", c.DisplayName)
	}
	fmt.Fprintf(&b, "\nTotal %s in %d weekly tranches:\n", rupees(c.TotalAmount), len(res.Entries))
	for i, e := range res.Entries {
		fmt.Fprintf(&b, "Week %d: %s at %s (#%d)\n", e.WeekNumber, rupees(e.Amount), res.ScheduledAt[i].In(loc).Format(displayLayout), e.ID)
	}
	if !c.IsActive() {
		fmt.Fprintf(&b, "Cycle is %s, no timers armed.", c.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatPaused(res *app.PauseResult) string {
	return fmt.Sprintf("Cycle %d (%s) paused, %d timer(s) removed.", res.Cycle.ID, res.Cycle.Symbol, res.TimersRemoved)
}

func formatResumed(res *app.ResumeResult, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle %d (%s) resumed, %d timer(s) re-armed.", res.Cycle.ID, res.Cycle.Symbol, len(res.Rearmed))
	if len(res.Overdue) > 0 {
		fmt.Fprintf(&b, "\n%d schedule(s) are overdue and stay pending:", len(res.Overdue))
		for _, e := range res.Overdue {
			fmt.Fprintf(&b, "\n#%d week %d was due %s", e.ID, e.WeekNumber, e.ExecuteAt(loc).Format(displayLayout))
		}
		b.WriteString("\nUse /edit or /rerun to handle them.")
	}
	return b.String()
}

func formatEdited(res *app.EditResult, loc *time.Location) string {
	e := res.Entry
	msg := fmt.Sprintf("Schedule #%d updated: %s on %s at %s, status %s. Cycle total is now %s.",
		e.ID, rupees(e.Amount), e.ExecutionDate.Format(investment.DateLayout), e.ExecutionTime, e.Status, rupees(res.CycleTotal))
	if res.Rearmed {
		msg += fmt.Sprintf(" Timer armed for %s.", res.FireAt.In(loc).Format(displayLayout))
	} else {
		msg += " No timer armed."
	}
	return msg
}

func formatOutcome(out *app.ExecutionOutcome) string {
	if !out.Attempted || out.Record == nil {
		return fmt.Sprintf("Schedule #%d was not attempted, status %s.", out.ScheduleID, out.Status)
	}
	r := out.Record
	if r.Status == investment.ExecutionStatusSuccess {
		msg := fmt.Sprintf("Schedule #%d executed: %d unit(s) at %s, order %s.", out.ScheduleID, r.Quantity, rupees(r.LTP), r.OrderID)
		if out.CycleCompleted {
			msg += " Cycle completed."
		}
		return msg
	}
	return fmt.Sprintf("Schedule #%d failed (%s): %s", out.ScheduleID, r.Reason, r.ErrorMessage.String)
}

func formatCycleDetail(d *investment.CycleDetail, loc *time.Location) string {
	var b strings.Builder
	c := d.Cycle
	fmt.Fprintf(&b, "Cycle %d: %s, %s, total %s, start %s\n",
		c.ID, c.Symbol, c.Status, rupees(c.TotalAmount), c.StartDate.Format(investment.DateLayout))
	for _, e := range d.Entries {
		fmt.Fprintf(&b, "#%d week %d: %s at %s, %s", e.ID, e.WeekNumber, rupees(e.Amount), e.ExecuteAt(loc).Format(displayLayout), e.Status)
		if e.Quantity > 0 {
			fmt.Fprintf(&b, " (%d units)", e.Quantity)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Executed %d/%d", investment.CountByStatus(d.Entries, investment.ScheduleStatusExecuted), investment.WeeksPerCycle)
	return b.String()
}

func formatCycleList(cycles []*investment.Cycle) string {
	if len(cycles) == 0 {
		return "No cycles yet."
	}
	var b strings.Builder
	b.WriteString("Cycles:")
	for _, c := range cycles {
		fmt.Fprintf(&b, "\n%d: %s %s, %s, from %s", c.ID, c.Symbol, rupees(c.TotalAmount), c.Status, c.StartDate.Format(investment.DateLayout))
	}
	return b.String()
}

func formatOverdueList(overdue []app.OverdueEntry, loc *time.Location) string {
	if len(overdue) == 0 {
		return "No overdue schedules."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d overdue schedule(s):", len(overdue))
	for _, o := range overdue {
		fmt.Fprintf(&b, "\n#%d %s week %d, %s due %s (cycle %d, %s)",
			o.Entry.ID, o.Cycle.Symbol, o.Entry.WeekNumber, rupees(o.Entry.Amount), o.DueAt.In(loc).Format(displayLayout), o.Cycle.ID, o.Cycle.Status)
	}
	return b.String()
}

func formatSecurityReport(r *app.SecurityReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", r.Symbol)
	if r.DisplayName != "" {
		fmt.Fprintf(&b, " (%s)", r.DisplayName)
	}
	fmt.Fprintf(&b, "\nCycles: %d\nInvested: %s\nHolding: %d unit(s) at avg %s\nLTP: %s\nCurrent value: %s\nProfit: %s%%",
		len(r.Cycles), rupees(r.TotalInvested), r.HoldingQuantity, rupees(r.AvgCostPrice), rupees(r.LTP), rupees(r.CurrentValue), r.ProfitPercent.StringFixed(2))
	return b.String()
}

func formatHoldings(holdings []app.HoldingSummary) string {
	if len(holdings) == 0 {
		return "No holdings."
	}
	var b strings.Builder
	b.WriteString("Holdings:")
	for _, h := range holdings {
		fmt.Fprintf(&b, "\n%s: %d @ %s, LTP %s, value %s (%s%%)",
			h.Symbol, h.Quantity, rupees(h.AvgCostPrice), rupees(h.LTP), rupees(h.CurrentValue), h.ProfitPercent.StringFixed(2))
	}
	return b.String()
}

// FormatTradeEvent renders a trade outcome notification.
func FormatTradeEvent(e notification.TradeEvent) string {
	name := e.Symbol
	if e.DisplayName != "" {
		name = fmt.Sprintf("%s (%s)", e.Symbol, e.DisplayName)
	}
	if e.Status == notification.OutcomeSuccess {
		msg := fmt.Sprintf("Bought %d unit(s) of %s at %s for week %d of cycle %d. Order %s.",
			e.Quantity, name, rupees(e.LTP), e.WeekNumber, e.CycleID, e.OrderID)
		if e.CycleDone {
			msg += " Cycle completed."
		}
		return msg
	}
	return fmt.Sprintf("Week %d of cycle %d (%s, %s) failed: %s %s. Use /rerun %d to retry.",
		e.WeekNumber, e.CycleID, name, rupees(e.Amount), e.Reason, e.Message, e.ScheduleID)
}

func formatScheduleDetail(d *app.ScheduleDetail, loc *time.Location) string {
	var b strings.Builder
	e := d.Entry
	fmt.Fprintf(&b, "Schedule #%d (cycle %d, week %d): %s at %s, %s",
		e.ID, e.CycleID, e.WeekNumber, rupees(e.Amount), e.ExecuteAt(loc).Format(displayLayout), e.Status)
	if len(d.Executions) == 0 {
		b.WriteString("\nNo attempts yet.")
		return b.String()
	}
	for _, r := range d.Executions {
		fmt.Fprintf(&b, "\n%s %s", r.ExecutedAt.In(loc).Format(displayLayout), r.Status)
		if r.Status == investment.ExecutionStatusSuccess {
			fmt.Fprintf(&b, ": %d @ %s, order %s", r.Quantity, rupees(r.LTP), r.OrderID)
		} else {
			fmt.Fprintf(&b, " (%s): %s", r.Reason, r.ErrorMessage.String)
		}
	}
	return b.String()
}
