// Package seed loads invoice fixtures so a fresh install has something to
// reconcile against.
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	invoicedomain "github.com/smallbiznis/tally/internal/invoice/domain"
	pkgdb "github.com/smallbiznis/tally/pkg/db"
)

const dateLayout = "2006-01-02"

type fixture struct {
	number   string
	customer string
	email    string
	amount   string
	status   invoicedomain.InvoiceStatus
	dueDays  int
	paidDays int
}

// The set repeats amounts and pairs near-identical customer names so a demo
// upload hits every classification branch. Due dates are relative to the day
// the loader runs; the two paid invoices never become candidates.
var fixtures = []fixture{
	{number: "INV-2024-001", customer: "Acme Corporation", email: "billing@acme.example.com", amount: "1250.00", status: invoicedomain.InvoiceStatusSent, dueDays: -12},
	{number: "INV-2024-002", customer: "Globex Inc", email: "accounts@globex.example.com", amount: "3499.99", status: invoicedomain.InvoiceStatusSent, dueDays: -5},
	{number: "INV-2024-003", customer: "Initech LLC", email: "ap@initech.example.io", amount: "760.50", status: invoicedomain.InvoiceStatusSent, dueDays: -2},
	{number: "INV-2024-004", customer: "Umbrella Supplies Ltd", email: "finance@umbrella.example.co", amount: "912.00", status: invoicedomain.InvoiceStatusSent, dueDays: 3},
	{number: "INV-2024-005", customer: "Stark Industries", email: "payables@stark.example.com", amount: "15000.00", status: invoicedomain.InvoiceStatusSent, dueDays: 7},
	{number: "INV-2024-006", customer: "Wayne Enterprises", email: "ap@wayne.example.com", amount: "8200.00", status: invoicedomain.InvoiceStatusSent, dueDays: 10},
	{number: "INV-2024-007", customer: "Pied Piper", email: "billing@piedpiper.example.com", amount: "499.00", status: invoicedomain.InvoiceStatusSent, dueDays: 14},
	{number: "INV-2024-008", customer: "Hooli Cloud Services", email: "ar@hooli.example.com", amount: "2100.00", status: invoicedomain.InvoiceStatusSent, dueDays: -1},
	{number: "INV-2024-009", customer: "Hooli Media Group", email: "media@hooli.example.com", amount: "2100.00", status: invoicedomain.InvoiceStatusSent, dueDays: 6},
	{number: "INV-2024-010", customer: "Vandelay Industries", email: "imports@vandelay.example.com", amount: "350.00", status: invoicedomain.InvoiceStatusSent, dueDays: -3},
	{number: "INV-2024-011", customer: "Kruger Industrial Smoothing", email: "office@kruger.example.com", amount: "350.00", status: invoicedomain.InvoiceStatusSent, dueDays: 1},
	{number: "INV-2024-012", customer: "Sunshine Carpet Cleaners", email: "bookings@sunshine.example.com", amount: "350.00", status: invoicedomain.InvoiceStatusDraft, dueDays: 20},
	{number: "INV-2024-013", customer: "Prestige Worldwide", email: "invoices@prestige.example.com", amount: "5400.00", status: invoicedomain.InvoiceStatusOverdue, dueDays: -30},
	{number: "INV-2024-014", customer: "Dunder Mifflin Paper Co", email: "accounts@dundermifflin.example.com", amount: "189.99", status: invoicedomain.InvoiceStatusOverdue, dueDays: -45},
	{number: "INV-2024-015", customer: "Bluth Company", email: "finance@bluth.example.com", amount: "620.75", status: invoicedomain.InvoiceStatusOverdue, dueDays: -21},
	{number: "INV-2024-016", customer: "Wonka Industries", email: "orders@wonka.example.com", amount: "999.00", status: invoicedomain.InvoiceStatusPaid, dueDays: -40, paidDays: 35},
	{number: "INV-2024-017", customer: "Cyberdyne Systems", email: "ap@cyberdyne.example.com", amount: "4750.00", status: invoicedomain.InvoiceStatusPaid, dueDays: -15, paidDays: 10},
	{number: "INV-2024-018", customer: "Soylent Corp", email: "sales@soylent.example.com", amount: "77.50", status: invoicedomain.InvoiceStatusDraft, dueDays: 30},
	{number: "INV-2024-019", customer: "Tyrell Corporation", email: "billing@tyrell.example.com", amount: "12500.00", status: invoicedomain.InvoiceStatusDraft, dueDays: 25},
	{number: "INV-2024-020", customer: "Oceanic Airlines", email: "billing@oceanic.example.com", amount: "815.00", status: invoicedomain.InvoiceStatusSent, dueDays: 4},
	{number: "INV-2024-021", customer: "Monsters Inc", email: "scaring@monsters.example.com", amount: "1047.20", status: invoicedomain.InvoiceStatusSent, dueDays: -8},
	{number: "INV-2024-022", customer: "Gekko & Co", email: "trading@gekko.example.com", amount: "26500.00", status: invoicedomain.InvoiceStatusSent, dueDays: 12},
	{number: "INV-2024-023", customer: "Duff Beverages Ltd", email: "orders@duff.example.com", amount: "433.10", status: invoicedomain.InvoiceStatusSent, dueDays: 0},
	{number: "INV-2024-024", customer: "Paper Street Soap Company", email: "sales@paperstreet.example.com", amount: "88.00", status: invoicedomain.InvoiceStatusSent, dueDays: 2},
}

// EnsureInvoices inserts every built-in fixture whose invoice number is not
// present yet and reports how many rows it created. Existing rows are left
// alone, so re-running the loader is safe.
func EnsureInvoices(db *gorm.DB) (int, error) {
	if db == nil {
		return 0, errors.New("seed database handle is required")
	}

	now := time.Now().UTC()
	today := now.Truncate(24 * time.Hour)

	invoices := make([]invoicedomain.Invoice, 0, len(fixtures))
	for _, f := range fixtures {
		amount, err := decimal.NewFromString(f.amount)
		if err != nil {
			return 0, fmt.Errorf("fixture %s: %w", f.number, err)
		}
		inv := invoicedomain.Invoice{
			ID:            uuid.New(),
			InvoiceNumber: f.number,
			CustomerName:  f.customer,
			CustomerEmail: f.email,
			Amount:        amount,
			Status:        f.status,
			DueDate:       today.AddDate(0, 0, f.dueDays),
			CreatedAt:     now,
		}
		if f.status == invoicedomain.InvoiceStatusPaid {
			paidAt := now.AddDate(0, 0, -f.paidDays)
			inv.PaidAt = &paidAt
		}
		invoices = append(invoices, inv)
	}

	return ensureInvoices(db, invoices)
}

// LoadCSV inserts invoice fixtures from a CSV file with the header
// invoice_number,customer_name,customer_email,amount,status,due_date,paid_at.
// Dates use 2006-01-02; paid_at may be blank. Rows whose invoice number is
// already present are skipped.
func LoadCSV(db *gorm.DB, path string) (int, error) {
	if db == nil {
		return 0, errors.New("seed database handle is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	invoices, err := parseCSV(f)
	if err != nil {
		return 0, err
	}

	return ensureInvoices(db, invoices)
}

var csvHeader = []string{"invoice_number", "customer_name", "customer_email", "amount", "status", "due_date", "paid_at"}

func parseCSV(r io.Reader) ([]invoicedomain.Invoice, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(csvHeader)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read seed header: %w", err)
	}
	for i, want := range csvHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != want {
			return nil, fmt.Errorf("seed header column %d: want %q, got %q", i+1, want, header[i])
		}
	}

	now := time.Now().UTC()
	var invoices []invoicedomain.Invoice
	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("seed row %d: %w", row, err)
		}

		amount, err := decimal.NewFromString(strings.TrimSpace(record[3]))
		if err != nil {
			return nil, fmt.Errorf("seed row %d: amount: %w", row, err)
		}
		status := invoicedomain.InvoiceStatus(strings.ToLower(strings.TrimSpace(record[4])))
		if !status.Valid() {
			return nil, fmt.Errorf("seed row %d: unknown status %q", row, record[4])
		}
		dueDate, err := time.Parse(dateLayout, strings.TrimSpace(record[5]))
		if err != nil {
			return nil, fmt.Errorf("seed row %d: due_date: %w", row, err)
		}
		var paidAt *time.Time
		if v := strings.TrimSpace(record[6]); v != "" {
			parsed, err := time.Parse(dateLayout, v)
			if err != nil {
				return nil, fmt.Errorf("seed row %d: paid_at: %w", row, err)
			}
			paidAt = &parsed
		}

		invoices = append(invoices, invoicedomain.Invoice{
			ID:            uuid.New(),
			InvoiceNumber: strings.TrimSpace(record[0]),
			CustomerName:  strings.TrimSpace(record[1]),
			CustomerEmail: strings.TrimSpace(record[2]),
			Amount:        amount,
			Status:        status,
			DueDate:       dueDate,
			PaidAt:        paidAt,
			CreatedAt:     now,
		})
	}

	return invoices, nil
}

func ensureInvoices(db *gorm.DB, invoices []invoicedomain.Invoice) (int, error) {
	ctx := context.Background()
	created := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, inv := range invoices {
			var existing invoicedomain.Invoice
			err := tx.Where("invoice_number = ?", inv.InvoiceNumber).First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err := tx.Create(&inv).Error; err != nil {
				// Two loaders racing on the same number both pass the
				// lookup; the unique index decides, and losing is fine.
				if pkgdb.IsDuplicateKeyErr(err) {
					continue
				}
				return fmt.Errorf("create invoice %s: %w", inv.InvoiceNumber, err)
			}
			created++
		}
		return nil
	})
	return created, err
}
