package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/firecloud-go/internal/cloud"
	"github.com/tonimelisma/firecloud-go/internal/jsonvalue"
)

func newDocCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Manage documents in the document store",
	}

	create := &cobra.Command{
		Use:   "create <collection> <json-object>",
		Short: "Create a document and print its id",
		Args:  cobra.ExactArgs(2),
		RunE:  runDocCreate,
	}
	create.Flags().String("id", "", "document id to use instead of a server-chosen one")
	create.Flags().Bool("generate-id", false, "use a random UUID as the document id")
	create.MarkFlagsMutuallyExclusive("id", "generate-id")

	patch := &cobra.Command{
		Use:   "patch <path> <json-object>",
		Short: "Update fields of a document",
		Long: `Update fields of a document. Without --update-mask every field is
replaced by the given object. With --update-mask only the listed fields are
written, and listed fields absent from the object are deleted.

--precondition is one of must-exist (default), must-not-exist or none.`,
		Args: cobra.ExactArgs(2),
		RunE: runDocPatch,
	}
	patch.Flags().StringSlice("mask", nil, "fields to return in the response")
	patch.Flags().StringSlice("update-mask", nil, "fields to write")
	patch.Flags().String("precondition", cloud.MustExist.String(), "existence precondition")

	ls := &cobra.Command{
		Use:   "ls <collection>",
		Short: "List documents in a collection",
		Args:  cobra.ExactArgs(1),
		RunE:  runDocLs,
	}
	ls.Flags().Int("page-size", 0, "maximum documents to return (0 = server default)")
	ls.Flags().String("page-token", "", "continue a previous listing")
	ls.Flags().String("order-by", "", "field to order by")
	ls.Flags().StringSlice("mask", nil, "fields to return")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <path>",
			Short: "Print a document's fields",
			Args:  cobra.ExactArgs(1),
			RunE:  runDocGet,
		},
		create,
		patch,
		&cobra.Command{
			Use:   "rm <path>",
			Short: "Delete a document",
			Args:  cobra.ExactArgs(1),
			RunE:  runDocRm,
		},
		ls,
	)

	return cmd
}

// documentJSON is the JSON output schema for one document.
type documentJSON struct {
	Name       string            `json:"name"`
	ID         string            `json:"id"`
	Fields     *jsonvalue.Object `json:"fields"`
	CreateTime time.Time         `json:"create_time"`
	UpdateTime time.Time         `json:"update_time"`
}

func toDocumentJSON(d *cloud.Document) documentJSON {
	return documentJSON{
		Name:       d.Name,
		ID:         d.ID,
		Fields:     d.Fields,
		CreateTime: d.CreateTime,
		UpdateTime: d.UpdateTime,
	}
}

// storeFor logs in if configured and returns the document-store client.
func storeFor(cmd *cobra.Command) (*CLIContext, *cloud.Store, error) {
	cc := mustCLIContext(cmd.Context())

	svc, err := cc.service(cmd.Context())
	if err != nil {
		return nil, nil, err
	}

	return cc, svc.Store, nil
}

// parseObjectArg parses a command-line argument that must be a JSON object.
func parseObjectArg(arg string) (*jsonvalue.Object, error) {
	v, err := parseJSONArg(arg)
	if err != nil {
		return nil, err
	}

	obj, ok := v.AsObject()
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", v.Kind())
	}

	return obj, nil
}

func parsePrecondition(s string) (cloud.Precondition, error) {
	for _, p := range []cloud.Precondition{cloud.MustExist, cloud.MustNotExist, cloud.NoPrecondition} {
		if p.String() == s {
			return p, nil
		}
	}

	return 0, fmt.Errorf("invalid precondition %q: must be must-exist, must-not-exist or none", s)
}

// printDocument writes the document's fields, or the whole document with
// --json.
func printDocument(cc *CLIContext, d *cloud.Document) error {
	if cc.Flags.JSON {
		return printJSON(cc.Out, toDocumentJSON(d))
	}

	fields := d.Fields
	if fields == nil {
		fields = jsonvalue.NewObject()
	}

	fmt.Fprintln(cc.Out, jsonvalue.ObjectValue(fields).String())

	return nil
}

func runDocGet(cmd *cobra.Command, args []string) error {
	cc, store, err := storeFor(cmd)
	if err != nil {
		return err
	}

	doc, err := store.GetDocument(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("reading document %q: %w", args[0], err)
	}

	return printDocument(cc, doc)
}

func runDocCreate(cmd *cobra.Command, args []string) error {
	cc, store, err := storeFor(cmd)
	if err != nil {
		return err
	}

	fields, err := parseObjectArg(args[1])
	if err != nil {
		return err
	}

	id, err := cmd.Flags().GetString("id")
	if err != nil {
		return err
	}

	generate, err := cmd.Flags().GetBool("generate-id")
	if err != nil {
		return err
	}

	if generate {
		id = uuid.NewString()
	}

	created, err := store.CreateDocument(cmd.Context(), args[0], fields, id)
	if err != nil {
		return fmt.Errorf("creating document in %q: %w", args[0], err)
	}

	fmt.Fprintln(cc.Out, created)

	return nil
}

func runDocPatch(cmd *cobra.Command, args []string) error {
	cc, store, err := storeFor(cmd)
	if err != nil {
		return err
	}

	fields, err := parseObjectArg(args[1])
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	mask, err := flags.GetStringSlice("mask")
	if err != nil {
		return err
	}

	updateMask, err := flags.GetStringSlice("update-mask")
	if err != nil {
		return err
	}

	preName, err := flags.GetString("precondition")
	if err != nil {
		return err
	}

	pre, err := parsePrecondition(preName)
	if err != nil {
		return err
	}

	store.AddReadMask(mask...)
	store.AddUpdateMask(updateMask...)

	doc, err := store.PatchDocument(cmd.Context(), args[0], fields, pre)
	if err != nil {
		return fmt.Errorf("patching document %q: %w", args[0], err)
	}

	return printDocument(cc, doc)
}

func runDocRm(cmd *cobra.Command, args []string) error {
	cc, store, err := storeFor(cmd)
	if err != nil {
		return err
	}

	if err := store.RemoveDocument(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("deleting document %q: %w", args[0], err)
	}

	cc.Statusf("Deleted %s\n", args[0])

	return nil
}

// docListJSON is the JSON output schema for `doc ls --json`.
type docListJSON struct {
	Documents     []documentJSON `json:"documents"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

func runDocLs(cmd *cobra.Command, args []string) error {
	cc, store, err := storeFor(cmd)
	if err != nil {
		return err
	}

	opts, err := listOptionsFromFlags(cmd)
	if err != nil {
		return err
	}

	list, err := store.ListDocuments(cmd.Context(), args[0], opts)
	if err != nil {
		return fmt.Errorf("listing %q: %w", args[0], err)
	}

	if cc.Flags.JSON {
		out := docListJSON{Documents: make([]documentJSON, 0, len(list.Documents)), NextPageToken: list.NextPageToken}
		for _, d := range list.Documents {
			out.Documents = append(out.Documents, toDocumentJSON(d))
		}

		return printJSON(cc.Out, out)
	}

	rows := make([][]string, 0, len(list.Documents))
	for _, d := range list.Documents {
		n := 0
		if d.Fields != nil {
			n = d.Fields.Len()
		}

		rows = append(rows, []string{d.ID, fmt.Sprint(n), formatTime(d.UpdateTime)})
	}

	printTable(cc.Out, []string{"ID", "FIELDS", "UPDATED"}, rows)

	if list.NextPageToken != "" {
		cc.Statusf("More documents: --page-token %s\n", list.NextPageToken)
	}

	return nil
}

func listOptionsFromFlags(cmd *cobra.Command) (cloud.ListOptions, error) {
	var opts cloud.ListOptions

	flags := cmd.Flags()

	var err error
	if opts.PageSize, err = flags.GetInt("page-size"); err != nil {
		return opts, err
	}

	if opts.PageToken, err = flags.GetString("page-token"); err != nil {
		return opts, err
	}

	if opts.OrderBy, err = flags.GetString("order-by"); err != nil {
		return opts, err
	}

	if opts.Mask, err = flags.GetStringSlice("mask"); err != nil {
		return opts, err
	}

	return opts, nil
}
