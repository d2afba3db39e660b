package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/formingest/internal/ingest"
)

type decodeOptions struct {
	contentType string
	boundary    string
	storage     string
	tempDir     string
	partLimit   int64
	totalLimit  int64
	fieldLimit  int64
	maxFiles    int
	nested      bool
	abort       bool
	debug       bool
}

// decodeResult is what decode prints.
type decodeResult struct {
	ID     string         `json:"id"`
	State  string         `json:"state"`
	Bytes  int64          `json:"bytes"`
	Fields map[string]any `json:"fields"`
	Files  []*ingest.File `json:"files"`
}

func newDecodeCmd() *cobra.Command {
	o := &decodeOptions{}

	cmd := &cobra.Command{
		Use:   "decode [FILE|-]",
		Short: "Decode a captured multipart body and print fields and files as JSON",
		Example: `  formctl decode --boundary XyZ body.bin
  curl ... | formctl decode --content-type 'multipart/form-data; boundary=XyZ' -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runDecode(cmd, o, path)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.contentType, "content-type", "", "Content-Type header of the captured request")
	f.StringVar(&o.boundary, "boundary", "", "boundary, shorthand for --content-type 'multipart/form-data; boundary=...'")
	f.StringVar(&o.storage, "storage", string(ingest.StorageMemory), "file storage: memory or tempfile")
	f.StringVar(&o.tempDir, "temp-dir", "", "directory for tempfile storage")
	f.Int64Var(&o.partLimit, "part-limit", 0, "per-file size limit in bytes (0 = none)")
	f.Int64Var(&o.totalLimit, "total-limit", 0, "total size limit in bytes (0 = none)")
	f.Int64Var(&o.fieldLimit, "field-limit", 0, "field value size limit in bytes (0 = default)")
	f.IntVar(&o.maxFiles, "max-files", 0, "maximum number of files (0 = none)")
	f.BoolVar(&o.nested, "nested", false, "expand bracket keys like user[name]")
	f.BoolVar(&o.abort, "abort-on-limit", false, "fail instead of truncating files over --part-limit")
	f.BoolVar(&o.debug, "debug", false, "log every ingestion step")
	cmd.MarkFlagsMutuallyExclusive("content-type", "boundary")

	return cmd
}

func runDecode(cmd *cobra.Command, o *decodeOptions, path string) error {
	contentType := o.contentType
	if o.boundary != "" {
		contentType = "multipart/form-data; boundary=" + o.boundary
	}
	if contentType == "" {
		return fmt.Errorf("one of --content-type or --boundary is required")
	}
	switch ingest.StorageMode(o.storage) {
	case ingest.StorageMemory, ingest.StorageTempFile:
	default:
		return fmt.Errorf("unknown --storage %q, want %s or %s", o.storage, ingest.StorageMemory, ingest.StorageTempFile)
	}

	var (
		body io.Reader = cmd.InOrStdin()
		size int64     = -1
	)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open body: %w", err)
		}
		defer f.Close()
		if st, err := f.Stat(); err == nil {
			size = st.Size()
		}
		body = f
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	ing, err := ingest.Decode(ctx, body, contentType, size, ingest.Options{
		StorageMode:        ingest.StorageMode(o.storage),
		TempDirectory:      o.tempDir,
		PerPartSizeLimit:   o.partLimit,
		AggregateSizeLimit: o.totalLimit,
		FieldSizeLimit:     o.fieldLimit,
		MaxFileParts:       o.maxFiles,
		ParseNestedKeys:    o.nested,
		AbortOnLimit:       o.abort,
		DebugLogging:       o.debug,
	})
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	defer ing.Close()

	if err := ing.Wait(ctx); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	res := decodeResult{
		ID:     ing.ID,
		State:  ing.State().String(),
		Bytes:  ing.BytesReceived(),
		Fields: ing.Fields(),
		Files:  []*ingest.File{},
	}
	ing.Files().Each(func(f *ingest.File) {
		res.Files = append(res.Files, f)
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
