package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

func TestFormatAmount(t *testing.T) {
	if got := formatAmount(149005, "eur"); got != "1490.05 EUR" {
		t.Fatalf("unexpected amount %q", got)
	}
}

func TestReadPassword_Stdin(t *testing.T) {
	t.Setenv(passwordEnv, "")
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader("s3cret\n"))
	cmd.SetErr(&bytes.Buffer{})

	got, err := readPassword(cmd)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "s3cret" {
		t.Fatalf("unexpected password %q", got)
	}
}

func TestReadPassword_Env(t *testing.T) {
	t.Setenv(passwordEnv, "from-env")
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader("ignored\n"))

	got, err := readPassword(cmd)
	if err != nil || got != "from-env" {
		t.Fatalf("expected env password, got %q, %v", got, err)
	}
}

func TestReadPassword_Empty(t *testing.T) {
	t.Setenv(passwordEnv, "")
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader(""))
	cmd.SetErr(&bytes.Buffer{})

	if _, err := readPassword(cmd); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestProjectsCmd_WatchFlag(t *testing.T) {
	cmd := projectsCmd(func() *runtime { return nil })
	if err := cmd.ParseFlags([]string{"--watch", "30s", "--all"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got, _ := cmd.Flags().GetDuration("watch"); got != 30*time.Second {
		t.Fatalf("unexpected watch interval %v", got)
	}
}

func TestProjectsError(t *testing.T) {
	if err := projectsError(fmt.Errorf("list: %w", domain.ErrForbidden)); !strings.Contains(err.Error(), "admin role") {
		t.Fatalf("unexpected message %q", err)
	}
	if err := projectsError(domain.ErrServerUnavailable); !errors.Is(err, domain.ErrServerUnavailable) {
		t.Fatalf("other errors must pass through, got %v", err)
	}
}
