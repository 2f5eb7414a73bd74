package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/target/ticket-enhancer/internal/bootstrap"
	"github.com/target/ticket-enhancer/internal/data"
	"github.com/target/ticket-enhancer/internal/domain/model"
	"github.com/target/ticket-enhancer/internal/domain/tenant"
	"github.com/target/ticket-enhancer/internal/service"
	"gopkg.in/yaml.v3"
)

// tenantFile is the tenant-upsert input. Secrets may be written as ${ENV_VAR}
// references so the file itself can be committed.
type tenantFile struct {
	Tenants []model.TenantUpsert `yaml:"tenants"`
}

// envRef matches ${NAME} only; a bare $ in a secret is left alone.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

type tenantUpsertOptions struct {
	File   string
	DryRun bool
}

func parseTenantUpsertFlags(args []string) (tenantUpsertOptions, error) {
	fs := flag.NewFlagSet("tenant-upsert", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts tenantUpsertOptions
	fs.StringVar(&opts.File, "file", "", "YAML file with a top-level tenants list")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Validate the file without writing")

	if err := fs.Parse(args); err != nil {
		return tenantUpsertOptions{}, err
	}
	if strings.TrimSpace(opts.File) == "" {
		return tenantUpsertOptions{}, errors.New("--file is required")
	}
	return opts, nil
}

// parseTenantFile expands ${VAR} references and decodes the tenants list.
// Unknown keys are rejected so a typo in a setting name is not silently ignored.
func parseTenantFile(r io.Reader, lookup func(string) string) ([]model.TenantUpsert, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read tenant file: %w", err)
	}
	expanded := envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		return []byte(lookup(string(m[2 : len(m)-1])))
	})

	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)

	var file tenantFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse tenant file: %w", err)
	}
	if len(file.Tenants) == 0 {
		return nil, errors.New("tenant file lists no tenants")
	}

	seen := make(map[string]bool, len(file.Tenants))
	for i := range file.Tenants {
		t := &file.Tenants[i]
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("tenant %d (%q): %w", i, t.ID, err)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("tenant %q listed twice", t.ID)
		}
		seen[t.ID] = true
	}
	return file.Tenants, nil
}

func newTenantService(cmdCtx *commandContext, db *sql.DB) (*service.TenantService, error) {
	cfg := cmdCtx.Config
	enc, err := bootstrap.CreateEncryptor(cfg.SecretsEncryptionKey, cfg.IsDev, cmdCtx.Logger)
	if err != nil {
		return nil, err
	}
	return service.NewTenantService(service.TenantServiceOptions{
		Repo:      data.NewTenantRepo(db, data.TenantRepoOptions{Logger: cmdCtx.Logger}),
		Encryptor: enc,
		// Defaults only shape loaded contexts; upsert and list never read them.
		Defaults: tenant.Defaults{},
		Logger:   cmdCtx.Logger,
	})
}

func runTenantUpsert(cmdCtx *commandContext, args []string) error {
	opts, err := parseTenantUpsertFlags(args)
	if err != nil {
		return err
	}

	f, err := os.Open(opts.File)
	if err != nil {
		return fmt.Errorf("open tenant file: %w", err)
	}
	defer f.Close()

	tenants, err := parseTenantFile(f, os.Getenv)
	if err != nil {
		return err
	}
	if opts.DryRun {
		return writef(cmdCtx.Out, "%d tenant(s) valid; nothing written\n", len(tenants))
	}

	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		svc, err := newTenantService(cmdCtx, db)
		if err != nil {
			return err
		}
		for _, in := range tenants {
			stored, err := svc.Upsert(ctx, in)
			if err != nil {
				return fmt.Errorf("upsert tenant %s: %w", in.ID, err)
			}
			if err := writef(cmdCtx.Out, "upserted %s (active=%t)\n", stored.ID, stored.Active); err != nil {
				return err
			}
		}
		return nil
	})
}

func runTenantList(cmdCtx *commandContext, _ []string) error {
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		svc, err := newTenantService(cmdCtx, db)
		if err != nil {
			return err
		}
		tenants, err := svc.List(ctx)
		if err != nil {
			return err
		}
		return printTenants(cmdCtx.Out, tenants)
	})
}

func printTenants(out io.Writer, tenants []*model.Tenant) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writeln(w, "ID\tName\tActive\tTicketing\tSources\tUpdated"); err != nil {
		return fmt.Errorf("write tenant header: %w", err)
	}
	for _, t := range tenants {
		sources := make([]string, 0, len(t.Settings.Sources))
		for name, src := range t.Settings.Sources {
			if src.Disabled {
				continue
			}
			sources = append(sources, name)
		}
		if len(sources) == 0 {
			sources = append(sources, "(defaults)")
		}
		sort.Strings(sources)
		if err := writef(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
			t.ID, t.Name, t.Active, t.TicketingBaseURL,
			strings.Join(sources, ","), t.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")); err != nil {
			return fmt.Errorf("write tenant %s: %w", t.ID, err)
		}
	}
	return w.Flush()
}
