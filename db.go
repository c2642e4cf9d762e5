package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/firecloud-go/internal/cloud"
	"github.com/tonimelisma/firecloud-go/internal/jsonvalue"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Read, write and watch the realtime tree database",
	}

	get := &cobra.Command{
		Use:   "get <path>",
		Short: "Print the JSON stored at a path",
		Args:  cobra.ExactArgs(1),
		RunE:  runDBGet,
	}
	get.Flags().Bool("shallow", false, "return only the immediate keys")

	push := &cobra.Command{
		Use:   "push <path> <json>",
		Short: "Add a child under a path and print its key",
		Long: `Add a child under a path. Without --id the server picks a
time-ordered key; with --id the child is written under that key.`,
		Args: cobra.ExactArgs(2),
		RunE: runDBPush,
	}
	push.Flags().String("id", "", "child key to write instead of a server-chosen one")

	cmd.AddCommand(
		get,
		&cobra.Command{
			Use:   "set <path> <json>",
			Short: "Replace the value at a path",
			Args:  cobra.ExactArgs(2),
			RunE:  runDBSet,
		},
		push,
		&cobra.Command{
			Use:   "patch <path> <json-object>",
			Short: "Merge an object into the value at a path",
			Args:  cobra.ExactArgs(2),
			RunE:  runDBPatch,
		},
		&cobra.Command{
			Use:   "rm <path>",
			Short: "Delete the value at a path",
			Args:  cobra.ExactArgs(1),
			RunE:  runDBRm,
		},
		&cobra.Command{
			Use:   "listen <path>",
			Short: "Stream change events for a path until interrupted",
			Long: `Print one JSON event per line for every change under a path.
Runs until the server closes the stream or SIGINT/SIGTERM arrives.`,
			Args: cobra.ExactArgs(1),
			RunE: runDBListen,
		},
	)

	return cmd
}

// databaseFor logs in if configured and returns the tree-database client.
func databaseFor(cmd *cobra.Command) (*CLIContext, *cloud.Database, error) {
	cc := mustCLIContext(cmd.Context())

	svc, err := cc.service(cmd.Context())
	if err != nil {
		return nil, nil, err
	}

	return cc, svc.Database, nil
}

// parseJSONArg parses a command-line JSON argument.
func parseJSONArg(arg string) (jsonvalue.Value, error) {
	v, err := jsonvalue.ParseString(arg)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("parsing JSON argument: %w", err)
	}

	return v, nil
}

func runDBGet(cmd *cobra.Command, args []string) error {
	cc, db, err := databaseFor(cmd)
	if err != nil {
		return err
	}

	shallow, err := cmd.Flags().GetBool("shallow")
	if err != nil {
		return err
	}

	depth := cloud.Deep
	if shallow {
		depth = cloud.Shallow
	}

	if err := db.GetTo(cmd.Context(), args[0], depth, cc.Out); err != nil {
		return fmt.Errorf("reading %q: %w", args[0], err)
	}

	fmt.Fprintln(cc.Out)

	return nil
}

func runDBSet(cmd *cobra.Command, args []string) error {
	cc, db, err := databaseFor(cmd)
	if err != nil {
		return err
	}

	v, err := parseJSONArg(args[1])
	if err != nil {
		return err
	}

	if err := db.Set(cmd.Context(), args[0], v); err != nil {
		return fmt.Errorf("writing %q: %w", args[0], err)
	}

	cc.Statusf("Set %s\n", args[0])

	return nil
}

func runDBPush(cmd *cobra.Command, args []string) error {
	cc, db, err := databaseFor(cmd)
	if err != nil {
		return err
	}

	v, err := parseJSONArg(args[1])
	if err != nil {
		return err
	}

	id, err := cmd.Flags().GetString("id")
	if err != nil {
		return err
	}

	name, err := db.Create(cmd.Context(), args[0], v, id)
	if err != nil {
		return fmt.Errorf("adding child under %q: %w", args[0], err)
	}

	fmt.Fprintln(cc.Out, name)

	return nil
}

func runDBPatch(cmd *cobra.Command, args []string) error {
	cc, db, err := databaseFor(cmd)
	if err != nil {
		return err
	}

	v, err := parseJSONArg(args[1])
	if err != nil {
		return err
	}

	if _, ok := v.AsObject(); !ok {
		return fmt.Errorf("patch value must be a JSON object, got %s", v.Kind())
	}

	if err := db.Patch(cmd.Context(), args[0], v); err != nil {
		return fmt.Errorf("patching %q: %w", args[0], err)
	}

	cc.Statusf("Patched %s\n", args[0])

	return nil
}

func runDBRm(cmd *cobra.Command, args []string) error {
	cc, db, err := databaseFor(cmd)
	if err != nil {
		return err
	}

	if err := db.Remove(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("deleting %q: %w", args[0], err)
	}

	cc.Statusf("Deleted %s\n", args[0])

	return nil
}

func runDBListen(cmd *cobra.Command, args []string) error {
	cc, db, err := databaseFor(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := shutdownContext(cmd.Context(), cc.Logger)
	defer cancel()

	var events int

	sink := cloud.FrameSinkFunc(func(payload []byte) error {
		events++

		if _, err := cc.Out.Write(payload); err != nil {
			return err
		}

		_, err := cc.Out.Write([]byte{'\n'})

		return err
	})

	err = db.Listen(ctx, args[0], sink, nil)

	cc.Logger.Debug("listen finished",
		slog.String("path", args[0]),
		slog.Int("events", events),
	)

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("listening on %q: %w", args[0], err)
	}

	return nil
}
