package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tranche_investor/internal/app"
	"tranche_investor/internal/domain/investment"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const unauthorizedReply = "Error: you are not allowed to run this command."

// CycleController is the cycle service surface the admin commands drive.
type CycleController interface {
	CreateCycle(ctx context.Context, symbol string, total decimal.Decimal, start time.Time) (*app.CreateCycleResult, error)
	PauseCycle(ctx context.Context, cycleID int64) (*app.PauseResult, error)
	ResumeCycle(ctx context.Context, cycleID int64) (*app.ResumeResult, error)
	EditSchedule(ctx context.Context, scheduleID int64, edit app.ScheduleEdit) (*app.EditResult, error)
	GetCycle(ctx context.Context, cycleID int64) (*investment.CycleDetail, error)
	ListCycles(ctx context.Context) ([]*investment.Cycle, error)
	GetSchedule(ctx context.Context, scheduleID int64) (*app.ScheduleDetail, error)
	ListOverdue(ctx context.Context) ([]app.OverdueEntry, error)
}

// TradeRunner re-runs a single schedule entry on demand.
type TradeRunner interface {
	RerunSchedule(ctx context.Context, scheduleID int64) (*app.ExecutionOutcome, error)
}

// PortfolioReporter builds the position reports.
type PortfolioReporter interface {
	SecurityReport(ctx context.Context, symbol string) (*app.SecurityReport, error)
	HoldingsSummary(ctx context.Context) ([]app.HoldingSummary, error)
}

// AdminCommands turns command arguments into service calls and reply texts.
type AdminCommands struct {
	cycles      CycleController
	trades      TradeRunner
	portfolio   PortfolioReporter
	location    *time.Location
	defaultTime investment.ClockTime
}

func NewAdminCommands(cycles CycleController, trades TradeRunner, portfolio PortfolioReporter, location *time.Location, defaultTime investment.ClockTime) *AdminCommands {
	return &AdminCommands{
		cycles:      cycles,
		trades:      trades,
		portfolio:   portfolio,
		location:    location,
		defaultTime: defaultTime,
	}
}

// commandFunc handles one command and returns the reply.
type commandFunc func(ctx context.Context, args []string) (string, error)

type adminCommand struct {
	name  string
	usage string
	run   commandFunc
}

func (a *AdminCommands) commands() []adminCommand {
	return []adminCommand{
		{"/schedule", "/schedule <SYMBOL> <AMOUNT> <YYYY-MM-DD> [HH:MM:SS]", a.Schedule},
		{"/pause", "/pause <CycleID>", a.Pause},
		{"/resume", "/resume <CycleID>", a.Resume},
		{"/edit", "/edit <ScheduleID> [amount=X] [date=YYYY-MM-DD] [time=HH:MM:SS]", a.Edit},
		{"/rerun", "/rerun <ScheduleID>", a.Rerun},
		{"/cycle", "/cycle <CycleID>", a.Cycle},
		{"/entry", "/entry <ScheduleID>", a.Entry},
		{"/cycles", "/cycles", a.Cycles},
		{"/overdue", "/overdue", a.Overdue},
		{"/portfolio", "/portfolio [SYMBOL]", a.Portfolio},
	}
}

func (a *AdminCommands) Schedule(ctx context.Context, args []string) (string, error) {
	req, err := parseScheduleArgs(args, a.location, a.defaultTime)
	if err != nil {
		return "", err
	}
	res, err := a.cycles.CreateCycle(ctx, req.Symbol, req.Amount, req.Start)
	if err != nil {
		return "", err
	}
	return formatCreated(res, a.location), nil
}

func (a *AdminCommands) Pause(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args)
	if err != nil {
		return "", err
	}
	res, err := a.cycles.PauseCycle(ctx, id)
	if err != nil {
		return "", err
	}
	return formatPaused(res), nil
}

func (a *AdminCommands) Resume(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args)
	if err != nil {
		return "", err
	}
	res, err := a.cycles.ResumeCycle(ctx, id)
	if err != nil {
		return "", err
	}
	return formatResumed(res, a.location), nil
}

func (a *AdminCommands) Edit(ctx context.Context, args []string) (string, error) {
	id, edit, err := parseEditArgs(args)
	if err != nil {
		return "", err
	}
	res, err := a.cycles.EditSchedule(ctx, id, edit)
	if err != nil {
		return "", err
	}
	return formatEdited(res, a.location), nil
}

func (a *AdminCommands) Rerun(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args)
	if err != nil {
		return "", err
	}
	out, err := a.trades.RerunSchedule(ctx, id)
	if err != nil {
		return "", err
	}
	return formatOutcome(out), nil
}

func (a *AdminCommands) Cycle(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args)
	if err != nil {
		return "", err
	}
	detail, err := a.cycles.GetCycle(ctx, id)
	if err != nil {
		return "", err
	}
	return formatCycleDetail(detail, a.location), nil
}

func (a *AdminCommands) Entry(ctx context.Context, args []string) (string, error) {
	id, err := parseID(args)
	if err != nil {
		return "", err
	}
	detail, err := a.cycles.GetSchedule(ctx, id)
	if err != nil {
		return "", err
	}
	return formatScheduleDetail(detail, a.location), nil
}

func (a *AdminCommands) Cycles(ctx context.Context, _ []string) (string, error) {
	cycles, err := a.cycles.ListCycles(ctx)
	if err != nil {
		return "", err
	}
	return formatCycleList(cycles), nil
}

func (a *AdminCommands) Overdue(ctx context.Context, _ []string) (string, error) {
	overdue, err := a.cycles.ListOverdue(ctx)
	if err != nil {
		return "", err
	}
	return formatOverdueList(overdue, a.location), nil
}

// Portfolio reports one symbol against its cycles, or all holdings without an argument.
func (a *AdminCommands) Portfolio(ctx context.Context, args []string) (string, error) {
	switch len(args) {
	case 0:
		holdings, err := a.portfolio.HoldingsSummary(ctx)
		if err != nil {
			return "", err
		}
		return formatHoldings(holdings), nil
	case 1:
		report, err := a.portfolio.SecurityReport(ctx, strings.ToUpper(args[0]))
		if err != nil {
			return "", err
		}
		return formatSecurityReport(report), nil
	default:
		return "", errUsage
	}
}

// RegisterAdminHandlers registers handlers for admin commands.
// Only adminTelegramID may run them.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, commands *AdminCommands, adminTelegramID int64, baseLogger *logrus.Entry) {
	for _, cmd := range commands.commands() {
		cmd := cmd
		b.Handle(cmd.name, func(c telebot.Context) error {
			handlerLogger := baseLogger.WithFields(logrus.Fields{
				"handler":   cmd.name,
				"sender_id": c.Sender().ID,
			})
			handlerLogger.Info("Command received")

			if c.Sender().ID != adminTelegramID {
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send(unauthorizedReply)
			}
			return c.Send(runCommand(ctx, cmd, c.Args(), handlerLogger))
		})
	}
}

// runCommand executes cmd and turns any error into an operator reply.
func runCommand(ctx context.Context, cmd adminCommand, args []string, logger *logrus.Entry) string {
	reply, err := cmd.run(ctx, args)
	if err == nil {
		logger.Info("Command completed")
		return reply
	}

	logWithError := logger.WithError(err).WithField("args", args)
	if errors.Is(err, errUsage) {
		logWithError.Warn("Invalid command format")
		return fmt.Sprintf("Invalid command format. Use: %s", cmd.usage)
	}
	switch investment.KindOf(err) {
	case investment.KindValidation, investment.KindNotFound, investment.KindStateConflict:
		logWithError.Warn("Command rejected")
	default:
		logWithError.Error("Command failed")
	}
	return formatError(err)
}
