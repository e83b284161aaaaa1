package taxtable

import (
	"errors"
	"fmt"
)

var (
	ErrNotConfigured  = errors.New("tax table not configured")
	ErrTableIntegrity = errors.New("tax table integrity violation")
	ErrTaxYearInUse   = errors.New("tax year is referenced by a committed payroll run")
	ErrInvalidTaxYear = errors.New("invalid tax year")
)

type NotConfiguredError struct {
	TaxYear   string
	Component string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("tax table not configured: no %s for tax year %s", e.Component, e.TaxYear)
}

func (e *NotConfiguredError) Unwrap() error {
	return ErrNotConfigured
}

type TaxTableIntegrityError struct {
	TaxYear string
	Income  string
	Reason  string
}

func (e *TaxTableIntegrityError) Error() string {
	if e.Income != "" {
		return fmt.Sprintf("tax table %s integrity violation at income %s: %s", e.TaxYear, e.Income, e.Reason)
	}
	return fmt.Sprintf("tax table %s integrity violation: %s", e.TaxYear, e.Reason)
}

func (e *TaxTableIntegrityError) Unwrap() error {
	return ErrTableIntegrity
}
