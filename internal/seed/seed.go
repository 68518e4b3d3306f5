// Package seed installs the built-in roles, the bootstrap administrator and
// default settings, and optionally a small demo data set.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wondertwin-ai/loyaltydesk/internal/auth"
	"github.com/wondertwin-ai/loyaltydesk/internal/messaging"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
)

// Built-in role names.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
	RoleViewer  = "viewer"
)

// Roles are created when missing. Existing roles are left as operators
// configured them.
var Roles = []store.Role{
	{Name: RoleAdmin, Description: "Full access", Permissions: store.StringList{auth.PermAll}},
	{Name: RoleManager, Description: "Runs the program day to day", Permissions: store.StringList{
		auth.PermCustomersManage, auth.PermProductsManage, auth.PermRewardsManage,
		auth.PermRedemptionsManage, auth.PermPointsAdjust, auth.PermMessagingSend,
		auth.PermReportsView, auth.PermDataImport, auth.PermDataExport,
	}},
	{Name: RoleCashier, Description: "Front desk", Permissions: store.StringList{
		auth.PermCustomersManage, auth.PermRedemptionsManage,
	}},
	{Name: RoleViewer, Description: "Read-only reporting", Permissions: store.StringList{
		auth.PermCustomersView, auth.PermRedemptionsView, auth.PermReportsView,
	}},
}

// Options configures Base.
type Options struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
	Log           logrus.FieldLogger
}

// Base makes the store usable: built-in roles, default channel and program
// settings, and an admin account when AdminEmail is set and no staff member
// with that email exists. It is safe to run repeatedly.
func Base(ctx context.Context, st store.Store, opts Options) error {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	admin, err := ensureRoles(ctx, st)
	if err != nil {
		return err
	}
	if err := ensureChannels(ctx, st); err != nil {
		return err
	}
	if opts.AdminEmail == "" {
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(opts.AdminEmail))
	_, err = st.GetStaffByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if len(opts.AdminPassword) < 8 {
		return fmt.Errorf("bootstrap admin password must have at least 8 characters")
	}
	hash, err := auth.HashPassword(opts.AdminPassword)
	if err != nil {
		return err
	}
	name := opts.AdminName
	if name == "" {
		name = "Administrator"
	}
	s := store.Staff{Name: name, Email: email, PasswordHash: hash, RoleID: admin.ID, Active: true}
	if err := st.CreateStaff(ctx, &s); err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	opts.Log.WithField("email", email).Info("created bootstrap admin")
	return nil
}

func ensureRoles(ctx context.Context, st store.StaffStore) (store.Role, error) {
	var admin store.Role
	for _, r := range Roles {
		cur, err := st.GetRoleByName(ctx, r.Name)
		if errors.Is(err, store.ErrNotFound) {
			cur = r
			cur.Permissions = append(store.StringList(nil), r.Permissions...)
			err = st.CreateRole(ctx, &cur)
		}
		if err != nil {
			return store.Role{}, fmt.Errorf("role %s: %w", r.Name, err)
		}
		if r.Name == RoleAdmin {
			admin = cur
		}
	}
	return admin, nil
}

// ensureChannels stores disabled defaults for channels never configured.
func ensureChannels(ctx context.Context, st store.SettingsStore) error {
	for _, ch := range store.Channels {
		cs, err := st.GetChannelSettings(ctx, ch)
		if err != nil {
			return err
		}
		if cs.Provider != "" {
			continue
		}
		cs.Channel = ch
		cs.Provider = messaging.DefaultProvider(ch)
		cs.BaseURL = messaging.DefaultTwilioURL
		if ch == store.ChannelEmail {
			cs.BaseURL = messaging.DefaultResendURL
		}
		if err := st.SaveChannelSettings(ctx, &cs); err != nil {
			return fmt.Errorf("channel %s: %w", ch, err)
		}
	}
	return nil
}
