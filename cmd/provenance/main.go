package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	provenance "github.com/i5heu/provenance-mark"
	"github.com/i5heu/provenance-mark/pkg/resolution"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: provenance [-config file] <command> [arguments]")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  new [-res low|medium|quartile|high] [-passphrase p]")
	fmt.Fprintln(w, "  next <chain-id> [-info text] [-date RFC3339]")
	fmt.Fprintln(w, "  show <chain-id>")
	fmt.Fprintln(w, "  chains")
	fmt.Fprintln(w, "  marks <chain-id>")
	fmt.Fprintln(w, "  export <chain-id> <output-file>")
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("provenance", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "Path to a YAML or TOML config file")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() < 1 {
		usage(stderr)
		return 1
	}

	conf, err := provenance.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	if len(conf.Paths) == 0 {
		dir, err := defaultDataDir()
		if err != nil {
			fmt.Fprintf(stderr, "Error resolving data dir: %v\n", err)
			return 1
		}
		conf.Paths = []string{dir}
	}

	ledger, err := provenance.New(conf)
	if err != nil {
		fmt.Fprintf(stderr, "Error initializing ledger: %v\n", err)
		return 1
	}
	if err := ledger.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Error starting ledger: %v\n", err)
		return 1
	}
	defer ledger.Close()

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "new":
		err = newChain(ctx, ledger, rest, stdout, stderr)
	case "next":
		err = nextMark(ctx, ledger, rest, stdout, stderr)
	case "show":
		err = showChain(ctx, ledger, rest, stdout)
	case "chains":
		err = listChains(ctx, ledger, stdout)
	case "marks":
		err = listMarks(ctx, ledger, rest, stdout)
	case "export":
		err = exportChain(ctx, ledger, rest, stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		usage(stderr)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".provenance", "data"), nil
}

func parseChainID(args []string, want int) ([]byte, error) {
	if len(args) < want {
		return nil, fmt.Errorf("expected %d argument(s), got %d", want, len(args))
	}
	id, err := hex.DecodeString(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid chain id: %w", err)
	}
	return id, nil
}

func newChain(ctx context.Context, ledger *provenance.Ledger, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("new", flag.ContinueOnError)
	fs.SetOutput(stderr)
	resName := fs.String("res", "", "Resolution of the chain (default from config)")
	passphrase := fs.String("passphrase", "", "Derive the seed from a passphrase instead of randomness")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := provenance.ChainOptions{Passphrase: *passphrase}
	if *resName != "" {
		res, err := resolution.Parse(*resName)
		if err != nil {
			return err
		}
		opts.Resolution = &res
	}

	info, err := ledger.CreateChain(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Created %s chain %s\n", info.Resolution, info.ChainIDHex())
	return nil
}

func nextMark(ctx context.Context, ledger *provenance.Ledger, args []string, stdout, stderr io.Writer) error {
	id, err := parseChainID(args, 1)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("next", flag.ContinueOnError)
	fs.SetOutput(stderr)
	infoText := fs.String("info", "", "Text to embed in the mark")
	dateText := fs.String("date", "", "Mark date in RFC3339 (default now)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	date := time.Now().UTC()
	if *dateText != "" {
		date, err = time.Parse(time.RFC3339, *dateText)
		if err != nil {
			return fmt.Errorf("invalid date: %w", err)
		}
	}
	var info any
	if *infoText != "" {
		info = *infoText
	}

	m, err := ledger.NextMark(ctx, id, date, info)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s seq=%d date=%s\n", m, m.Seq(), m.Date().Format(time.RFC3339))
	return nil
}

func showChain(ctx context.Context, ledger *provenance.Ledger, args []string, stdout io.Writer) error {
	id, err := parseChainID(args, 1)
	if err != nil {
		return err
	}
	info, err := ledger.Chain(ctx, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		ChainID    string                `json:"chainID"`
		Resolution resolution.Resolution `json:"res"`
		NextSeq    uint32                `json:"nextSeq"`
	}{info.ChainIDHex(), info.Resolution, info.NextSeq})
}

func listChains(ctx context.Context, ledger *provenance.Ledger, stdout io.Writer) error {
	chains, err := ledger.Chains(ctx)
	if err != nil {
		return err
	}
	for _, c := range chains {
		fmt.Fprintf(stdout, "%s  %-8s  next=%d\n", c.ChainIDHex(), c.Resolution, c.NextSeq)
	}
	return nil
}

func listMarks(ctx context.Context, ledger *provenance.Ledger, args []string, stdout io.Writer) error {
	id, err := parseChainID(args, 1)
	if err != nil {
		return err
	}
	marks, err := ledger.Marks(ctx, id)
	if err != nil {
		return err
	}
	for _, m := range marks {
		line := fmt.Sprintf("%6d  %s  %s", m.Seq(), m.Identifier(), m.Date().Format(time.RFC3339))
		if m.HasInfo() {
			var text string
			if err := m.DecodeInfo(&text); err == nil {
				line += "  " + text
			}
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}

func exportChain(ctx context.Context, ledger *provenance.Ledger, args []string, stdout io.Writer) error {
	id, err := parseChainID(args, 2)
	if err != nil {
		return err
	}
	f, err := os.Create(args[1])
	if err != nil {
		return err
	}
	n, err := ledger.Export(ctx, id, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Exported %d marks to %s\n", n, args[1])
	return nil
}
