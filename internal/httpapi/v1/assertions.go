package v1

import (
	"github.com/blocbill/blocbill/internal/service/expense"
	"github.com/blocbill/blocbill/internal/service/payment"
	"github.com/blocbill/blocbill/internal/service/sheet"
	"github.com/blocbill/blocbill/internal/storage/memory"
)

// Compile-time interface assertions for the in-memory Store against the
// service dependencies the server wires.
var (
	_ sheet.Repo     = (*memory.Store)(nil)
	_ sheet.Writer   = (*memory.Store)(nil)
	_ payment.Repo   = (*memory.Store)(nil)
	_ expense.Repo   = (*memory.Store)(nil)
	_ expense.Writer = (*memory.Store)(nil)
)
