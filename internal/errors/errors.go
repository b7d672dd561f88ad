// Package errors provides custom error types for the backtesting pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNumericalFailure        = errors.New("numerical failure")
	ErrMalformedPattern        = errors.New("malformed pattern")
	ErrInsufficientForwardData = errors.New("insufficient forward data")
	ErrInsufficientData        = errors.New("insufficient data")
	ErrInvalidSeries           = errors.New("invalid price series")
	ErrConfigInvalid           = errors.New("invalid configuration")
	ErrDataNotFound            = errors.New("data not found")
	ErrDatabaseError           = errors.New("database error")
)

// NumericalError is returned when smoothing cannot produce a usable fit.
type NumericalError struct {
	Stage     string
	Bandwidth float64
	Message   string
}

func (e *NumericalError) Error() string {
	if e.Bandwidth > 0 {
		return fmt.Sprintf("numerical failure [%s] bw=%g: %s", e.Stage, e.Bandwidth, e.Message)
	}
	return fmt.Sprintf("numerical failure [%s]: %s", e.Stage, e.Message)
}

func (e *NumericalError) Unwrap() error {
	return ErrNumericalFailure
}

// NewNumericalError creates a new NumericalError.
func NewNumericalError(stage string, bandwidth float64, message string) *NumericalError {
	return &NumericalError{
		Stage:     stage,
		Bandwidth: bandwidth,
		Message:   message,
	}
}

// PatternError is returned when a pattern instance lacks what the simulator needs.
type PatternError struct {
	Kind   string
	Window int
	Reason string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("malformed pattern [%s] window %d: %s", e.Kind, e.Window, e.Reason)
}

func (e *PatternError) Unwrap() error {
	return ErrMalformedPattern
}

// NewPatternError creates a new PatternError.
func NewPatternError(kind string, window int, reason string) *PatternError {
	return &PatternError{
		Kind:   kind,
		Window: window,
		Reason: reason,
	}
}

// SimulationError is returned when the forward walk runs off the available bars.
type SimulationError struct {
	Kind   string
	Window int
	Bars   int
	Needed int
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation [%s] window %d: needs bar %d, series has %d bars",
		e.Kind, e.Window, e.Needed, e.Bars)
}

func (e *SimulationError) Unwrap() error {
	return ErrInsufficientForwardData
}

// NewSimulationError creates a new SimulationError.
func NewSimulationError(kind string, window, bars, needed int) *SimulationError {
	return &SimulationError{
		Kind:   kind,
		Window: window,
		Bars:   bars,
		Needed: needed,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataError represents a data-related error.
type DataError struct {
	Source  string
	Symbol  string
	Message string
	Err     error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.Source, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.Source, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(source, symbol, message string, err error) *DataError {
	return &DataError{
		Source:  source,
		Symbol:  symbol,
		Message: message,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
