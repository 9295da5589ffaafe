//go:build integration

// Integration tests start a throwaway PostgreSQL container.
// Run with: go test -tags=integration -v ./internal/reference/...
package reference

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const fixtureSQL = `
CREATE SCHEMA pipelines;
CREATE TABLE pipelines.audit_trail_company_map_vw (id bigint, name text);
CREATE TABLE pipelines.audit_trail_user_company_vw (user_id text, user_name text, company_name text);
INSERT INTO pipelines.audit_trail_company_map_vw VALUES (7, 'Acme Corp'), (8, 'Beta LLC'), (9, 'Gamma Inc');
INSERT INTO pipelines.audit_trail_user_company_vw VALUES
  ('99', 'Jane Doe', 'Acme Corp'),
  ('99', 'Jane Doe', 'Beta LLC'),
  ('12', 'Sam Smith', NULL);
`

func TestPostgresSource_Resolver(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("customers"),
		tcpostgres.WithUsername("report"),
		tcpostgres.WithPassword("report"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}()

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, fixtureSQL); err != nil {
		t.Fatalf("load fixtures: %v", err)
	}

	src := NewPostgresSource(db, "")

	var batches []int
	err = src.FetchTable(ctx, CompanyMapView, 2, func(rows []Row) error {
		batches = append(batches, len(rows))
		return nil
	})
	if err != nil {
		t.Fatalf("FetchTable() error = %v", err)
	}
	if !reflect.DeepEqual(batches, []int{2, 1}) {
		t.Errorf("batch sizes = %v, want [2 1]", batches)
	}

	r := NewResolver(src, ResolverConfig{})
	name, err := r.CompanyName(ctx, "7")
	if err != nil || name != "Acme Corp" {
		t.Errorf("CompanyName(7) = %q, %v, want Acme Corp", name, err)
	}
	user, companies, err := r.UserDetails(ctx, "99")
	if err != nil || user != "Jane Doe" || !reflect.DeepEqual(companies, []string{"Acme Corp", "Beta LLC"}) {
		t.Errorf("UserDetails(99) = %q, %v, %v", user, companies, err)
	}
	_, companies, _ = r.UserDetails(ctx, "12")
	if !reflect.DeepEqual(companies, []string{""}) {
		t.Errorf("UserDetails(12) companies = %v, want [\"\"]", companies)
	}
}
