package memory

import (
	"github.com/blocbill/blocbill/internal/service/expense"
	"github.com/blocbill/blocbill/internal/service/payment"
	"github.com/blocbill/blocbill/internal/service/sheet"
)

// Compile-time interface assertions documenting which interfaces Store satisfies.
var (
	// Service layer repos and writers
	_ sheet.Repo     = (*Store)(nil)
	_ sheet.Writer   = (*Store)(nil)
	_ payment.Repo   = (*Store)(nil)
	_ payment.Writer = (*Store)(nil)
	_ expense.Repo   = (*Store)(nil)
	_ expense.Writer = (*Store)(nil)
)
