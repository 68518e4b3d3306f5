package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wondertwin-ai/loyaltydesk/internal/config"
	"github.com/wondertwin-ai/loyaltydesk/internal/logging"
	"github.com/wondertwin-ai/loyaltydesk/internal/seed"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
	"github.com/wondertwin-ai/loyaltydesk/internal/store/memory"
)

func TestSeedOptionsDemoFallback(t *testing.T) {
	cfg := config.Default()
	cfg.Demo = true
	opts := seedOptions(cfg, logging.Discard())
	assert.Equal(t, seed.DemoAdminEmail, opts.AdminEmail)
	assert.Equal(t, seed.DemoAdminPassword, opts.AdminPassword)

	cfg.Auth.BootstrapEmail = "owner@example.com"
	cfg.Auth.BootstrapPassword = "owner-password"
	opts = seedOptions(cfg, logging.Discard())
	assert.Equal(t, "owner@example.com", opts.AdminEmail)
}

func TestOpenStoreMemorySeedsDemo(t *testing.T) {
	cfg := config.Default()
	cfg.Demo = true
	st, err := openStore(context.Background(), cfg, logging.Discard(), store.NewClock())
	require.NoError(t, err)
	defer st.Close()

	_, ok := st.(*memory.Store)
	require.True(t, ok)
	page, err := st.ListCustomers(context.Background(), store.ListParams{PerPage: 1})
	require.NoError(t, err)
	assert.Positive(t, page.Meta.Total)
	_, err = st.GetStaffByEmail(context.Background(), seed.DemoAdminEmail)
	assert.NoError(t, err)
}

func TestMigrateDownRejectsBadSteps(t *testing.T) {
	cmd := migrateCmd()
	cmd.SetArgs([]string{"down", "zero"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive integer")
}

func TestVersionCommand(t *testing.T) {
	cmd := versionCmd()
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
}

func TestAdminTimeAdvanceRejectsBadDuration(t *testing.T) {
	cmd := adminCmd()
	cmd.SetArgs([]string{"time", "advance", "soon"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}
