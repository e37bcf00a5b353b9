package daemon

import "go.opentelemetry.io/otel/metric"

// Metrics holds the metric instruments of the transaction daemon.
type Metrics struct {
	TransactionsOpened metric.Int64Counter
	TransactionsActive metric.Int64UpDownCounter
	CommandsExecuted   metric.Int64Counter
	CommandsFailed     metric.Int64Counter
	CommandDuration    metric.Int64Histogram
}

// NewMetrics creates and registers all daemon instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	transactionsOpened, err := meter.Int64Counter(
		"snapupd.daemon.transactions_opened_total",
		metric.WithDescription("Total number of snapshot transactions opened."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	transactionsActive, err := meter.Int64UpDownCounter(
		"snapupd.daemon.transactions_active",
		metric.WithDescription("Number of transactions currently locked by an in-flight operation."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	commandsExecuted, err := meter.Int64Counter(
		"snapupd.daemon.commands_executed_total",
		metric.WithDescription("Total number of commands that ran to completion."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	commandsFailed, err := meter.Int64Counter(
		"snapupd.daemon.commands_failed_total",
		metric.WithDescription("Total number of commands that failed before completion."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	commandDuration, err := meter.Int64Histogram(
		"snapupd.daemon.command_duration",
		metric.WithDescription("Wall-clock duration of executed commands."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		TransactionsOpened: transactionsOpened,
		TransactionsActive: transactionsActive,
		CommandsExecuted:   commandsExecuted,
		CommandsFailed:     commandsFailed,
		CommandDuration:    commandDuration,
	}, nil
}
