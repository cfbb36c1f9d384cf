package engine

import "fmt"

// Kind discriminates the closed set of error categories the engine raises.
type Kind int

const (
	// InvalidInput covers pre-loop parameter validation failures.
	InvalidInput Kind = iota
	// StoreError wraps a failure propagated from the attribute store.
	StoreError
	// CalendarUnavailable means no candidate instrument yielded a trading day.
	CalendarUnavailable
	// DataGap means a date adjustment could not satisfy an operation.
	DataGap
	// TaxError means an invalid sale was presented to the tax calculator.
	TaxError
	// TypeMismatch means a property-bag lookup found a value of a different type.
	TypeMismatch
	// PropertyNotFound means a property-bag lookup found nothing under that key.
	PropertyNotFound
	// InsufficientCash means a tax-funding rebalance could not raise the full shortfall.
	InsufficientCash
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case StoreError:
		return "StoreError"
	case CalendarUnavailable:
		return "CalendarUnavailable"
	case DataGap:
		return "DataGap"
	case TaxError:
		return "TaxError"
	case TypeMismatch:
		return "TypeMismatch"
	case PropertyNotFound:
		return "PropertyNotFound"
	case InsufficientCash:
		return "InsufficientCash"
	default:
		return "Unknown"
	}
}

// DataGapReason further classifies a DataGap error.
type DataGapReason int

const (
	// NoFutureTradingDay means no later date is a trading day.
	NoFutureTradingDay DataGapReason = iota
	// NoFutureData means the instrument has no data on or after the date.
	NoFutureData
	// NoDataAtAll means the instrument has no data in either direction.
	NoDataAtAll
)

func (r DataGapReason) String() string {
	switch r {
	case NoFutureTradingDay:
		return "NoFutureTradingDay"
	case NoFutureData:
		return "NoFutureData"
	case NoDataAtAll:
		return "NoDataAtAll"
	default:
		return "Unknown"
	}
}

// Error is the typed error carried across every fallible boundary in the
// engine. Stage names the pipeline step that raised it (e.g. "validate",
// "build_calendar", "load_prices").
type Error struct {
	Kind    Kind
	Stage   string
	Reason  DataGapReason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a plain *Error for the given kind and stage.
func NewError(kind Kind, stage, message string) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message}
}

// Wrap builds an *Error that preserves an underlying cause for errors.Is/As.
func Wrap(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: err.Error(), Err: err}
}

// NewDataGap builds a DataGap error with a specific reason.
func NewDataGap(stage string, reason DataGapReason, message string) *Error {
	return &Error{Kind: DataGap, Stage: stage, Reason: reason, Message: message}
}
