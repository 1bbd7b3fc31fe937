package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tranche_investor/internal/app"
	"tranche_investor/internal/domain/investment"

	"github.com/shopspring/decimal"
)

var errUsage = errors.New("invalid command format")

// scheduleRequest is a parsed /schedule command.
type scheduleRequest struct {
	Symbol string
	Amount decimal.Decimal
	Start  time.Time
}

// parseScheduleArgs parses "SYMBOL AMOUNT YYYY-MM-DD [HH:MM[:SS]]". The time defaults to
// defaultTime and the result is placed in loc.
func parseScheduleArgs(args []string, loc *time.Location, defaultTime investment.ClockTime) (scheduleRequest, error) {
	if len(args) < 3 || len(args) > 4 {
		return scheduleRequest{}, errUsage
	}
	amount, err := decimal.NewFromString(args[1])
	if err != nil {
		return scheduleRequest{}, fmt.Errorf("%w: amount %q is not a number", investment.ErrValidation, args[1])
	}
	date, err := investment.ParseDate(args[2])
	if err != nil {
		return scheduleRequest{}, err
	}
	clock := defaultTime
	if len(args) == 4 {
		if clock, err = investment.ParseClockTime(args[3]); err != nil {
			return scheduleRequest{}, err
		}
	}
	return scheduleRequest{
		Symbol: strings.ToUpper(args[0]),
		Amount: amount,
		Start:  time.Date(date.Year(), date.Month(), date.Day(), clock.Hour, clock.Minute, clock.Second, 0, loc),
	}, nil
}

// parseID parses the single positive id argument of /pause, /resume, /rerun and /cycle.
func parseID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, errUsage
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id %q must be a positive number", investment.ErrValidation, args[0])
	}
	return id, nil
}

// parseEditArgs parses "ID [amount=X] [date=YYYY-MM-DD] [time=HH:MM:SS]". At least one
// field must be given.
func parseEditArgs(args []string) (int64, app.ScheduleEdit, error) {
	if len(args) < 2 {
		return 0, app.ScheduleEdit{}, errUsage
	}
	id, err := parseID(args[:1])
	if err != nil {
		return 0, app.ScheduleEdit{}, err
	}

	var edit app.ScheduleEdit
	for _, arg := range args[1:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || value == "" {
			return 0, app.ScheduleEdit{}, fmt.Errorf("%w: expected key=value, got %q", investment.ErrValidation, arg)
		}
		switch strings.ToLower(key) {
		case "amount":
			edit.Amount = value
		case "date":
			edit.Date = value
		case "time":
			edit.Time = value
		default:
			return 0, app.ScheduleEdit{}, fmt.Errorf("%w: unknown field %q", investment.ErrValidation, key)
		}
	}
	return id, edit, nil
}
