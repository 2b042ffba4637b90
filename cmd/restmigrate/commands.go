package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CaseSolvedUK/rest-migrate/pkg/clients"
	"github.com/CaseSolvedUK/rest-migrate/pkg/config"
	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	jsonpool "github.com/CaseSolvedUK/rest-migrate/pkg/json"
	"github.com/CaseSolvedUK/rest-migrate/pkg/logger"
	"github.com/CaseSolvedUK/rest-migrate/pkg/tree"
)

// PasswordEnv supplies --password when the flag is omitted
const PasswordEnv = "RESTMIGRATE_PASSWORD"

type credentialFlags struct {
	auth     string
	username string
	password string
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.auth, "auth", "", "Authentication scheme (Basic or Digest)")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "Username for the API")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "Password for the API (default $"+PasswordEnv+")")
}

func (f *credentialFlags) credentials() *clients.Credentials {
	creds := &clients.Credentials{Auth: f.auth, Username: f.username, Password: f.password}
	if creds.Password == "" {
		creds.Password = os.Getenv(PasswordEnv)
	}
	if creds.IsZero() {
		return nil
	}
	return creds
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// explain adds the server challenge to authentication failures
func explain(err error) error {
	if errors.IsType(err, errors.ErrorTypeAuthenticationRequired) {
		challenge, _ := errors.Detail(err, "challenge")
		return fmt.Errorf("server requires authentication (%v): rerun with --auth, --username and --password", challenge)
	}
	return err
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := jsonpool.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func newImportCmd(getCfg func() *config.Config) *cobra.Command {
	var (
		creds       credentialFlags
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "import <leaf-id>",
		Short: "Fetch a leaf's records and import them into the record store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a := newApp(getCfg())
			defer a.close(context.Background())
			if err := a.openImporter(ctx); err != nil {
				return err
			}
			a.serveMetrics(ctx, metricsAddr)

			out, err := a.importer.ImportData(ctx, args[0], creds.credentials())
			if err != nil {
				return explain(err)
			}
			for _, m := range out.Messages {
				if m.Failed() {
					a.logger.Warn(m.String())
				}
			}
			return printJSON(cmd, out)
		},
	}
	creds.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while importing (e.g. :9090)")
	return cmd
}

func newGetCmd(getCfg func() *config.Config) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "get <leaf-id>",
		Short: "Fetch a leaf's records and print them without importing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a := newApp(getCfg())
			defer a.close(context.Background())
			if err := a.openImporter(ctx); err != nil {
				return err
			}

			records, err := a.importer.GetData(ctx, args[0], creds.credentials())
			if err != nil {
				return explain(err)
			}
			return printJSON(cmd, records)
		},
	}
	creds.register(cmd)
	return cmd
}

func newFieldsCmd(getCfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "fields <entity-type>",
		Short: "List the fields of a destination entity type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(getCfg())
			defer a.close(context.Background())
			if err := a.openStore(cmd.Context()); err != nil {
				return err
			}

			fields, err := a.store.ListFields(args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tREQUIRED\tOPTIONS")
			for _, f := range fields {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", f.Name, f.Type, f.Required, f.Options)
			}
			return w.Flush()
		},
	}
}

func newTreeCmd(getCfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Inspect and edit the segment tree",
	}

	// withTree opens the tree file before running fn
	withTree := func(fn func(cmd *cobra.Command, t *tree.Tree, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a := newApp(getCfg())
			if err := a.openTree(); err != nil {
				return err
			}
			return fn(cmd, a.tree, args)
		}
	}

	ls := &cobra.Command{
		Use:   "ls [parent-id]",
		Short: "List the children of a node (no argument lists the API roots)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withTree(func(cmd *cobra.Command, t *tree.Tree, args []string) error {
			parent := tree.RootLabel
			if len(args) == 1 {
				parent = args[0]
			}
			nodes, err := t.GetChildren(cmd.Context(), parent)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tGROUP")
			for _, n := range nodes {
				fmt.Fprintf(w, "%s\t%s\t%t\n", n.Value, n.Label, n.Expandable)
			}
			return w.Flush()
		}),
	}

	var (
		group  bool
		parent string
	)
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a segment",
		Args:  cobra.ExactArgs(1),
		RunE: withTree(func(cmd *cobra.Command, t *tree.Tree, args []string) error {
			seg, err := t.AddNode(cmd.Context(), args[0], group, parent)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), seg.ID)
			return nil
		}),
	}
	add.Flags().BoolVar(&group, "group", false, "Create a group (a node that can have children)")
	add.Flags().StringVar(&parent, "parent", "", "Parent segment id (empty creates an API root)")

	mv := &cobra.Command{
		Use:   "mv <id> <parent-id>",
		Short: "Move a segment under a new parent (use \"" + tree.RootLabel + "\" to make it a root)",
		Args:  cobra.ExactArgs(2),
		RunE: withTree(func(cmd *cobra.Command, t *tree.Tree, args []string) error {
			return t.Move(cmd.Context(), args[0], args[1])
		}),
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a segment without children",
		Args:  cobra.ExactArgs(1),
		RunE: withTree(func(cmd *cobra.Command, t *tree.Tree, args []string) error {
			return t.Delete(cmd.Context(), args[0])
		}),
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a segment",
		Args:  cobra.ExactArgs(1),
		RunE: withTree(func(cmd *cobra.Command, t *tree.Tree, args []string) error {
			seg, err := t.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, seg)
		}),
	}

	cmd.AddCommand(ls, add, mv, rm, show, newTreeSetCmd(withTree))
	return cmd
}

func newTreeSetCmd(withTree func(func(*cobra.Command, *tree.Tree, []string) error) func(*cobra.Command, []string) error) *cobra.Command {
	var (
		name, entity, field, conversion, dataField string
		keep, pathLeaf, group                      bool
		params                                     []string
	)
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Update segment attributes",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = withTree(func(cmd *cobra.Command, t *tree.Tree, args []string) error {
		ctx := cmd.Context()
		seg, err := t.Get(ctx, args[0])
		if err != nil {
			return err
		}

		f := cmd.Flags()
		if f.Changed("name") {
			seg.Name = name
		}
		if f.Changed("group") {
			seg.IsGroup = group
		}
		if f.Changed("target-entity") {
			seg.TargetEntityType = entity
		}
		if f.Changed("target-field") {
			seg.TargetField = field
		}
		if f.Changed("conversion") {
			seg.ConversionMethod = conversion
		}
		if f.Changed("data-field") {
			seg.DataField = dataField
		}
		if f.Changed("keep-existing") {
			seg.KeepExisting = keep
		}
		if f.Changed("path-leaf") {
			seg.PathLeaf = pathLeaf
		}
		if f.Changed("param") {
			seg.Params = seg.Params[:0]
			for _, raw := range params {
				p, err := parseParam(raw)
				if err != nil {
					return err
				}
				seg.Params = append(seg.Params, p)
			}
		}

		if err := t.Save(ctx, seg); err != nil {
			return err
		}
		logger.Get().Debug("segment saved", zap.String("id", seg.ID))
		return printJSON(cmd, seg)
	})

	f := cmd.Flags()
	f.StringVar(&name, "name", "", "Segment name")
	f.BoolVar(&group, "group", false, "Whether the segment is a group")
	f.StringVar(&entity, "target-entity", "", "Destination entity type")
	f.StringVar(&field, "target-field", "", "Destination field name or label")
	f.StringVar(&conversion, "conversion", "", "Conversion applied to the value (e.g. .upper(), int)")
	f.StringVar(&dataField, "data-field", "", "Segment id whose fetched values enumerate this segment")
	f.BoolVar(&keep, "keep-existing", false, "Leave existing documents untouched (roots only; copied to descendants)")
	f.BoolVar(&pathLeaf, "path-leaf", false, "Use the leaf name as a path component")
	f.StringArrayVar(&params, "param", nil, "Parameter key=value, optionally suffixed :Header (repeatable; replaces all params)")
	return cmd
}

// parseParam reads key=value or key=value:Header
func parseParam(raw string) (tree.Param, error) {
	key, value, ok := strings.Cut(raw, "=")
	if !ok || key == "" {
		return tree.Param{}, errors.Newf(errors.ErrorTypeConfig, "invalid param %q: expected key=value", raw)
	}
	kind := tree.ParamQuery
	if v, suffix, found := cutLast(value, ":"); found {
		switch tree.ParamKind(suffix) {
		case tree.ParamHeader, tree.ParamQuery:
			value, kind = v, tree.ParamKind(suffix)
		}
	}
	return tree.Param{Key: key, Value: value, Kind: kind}, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

func newConfigCmd(getCfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init <path>",
			Short: "Write a configuration file with default values",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := os.Stat(args[0]); err == nil {
					return fmt.Errorf("%s already exists", args[0])
				}
				if err := config.Save(args[0], config.Default()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return printJSON(cmd, getCfg())
			},
		},
	)
	return cmd
}
