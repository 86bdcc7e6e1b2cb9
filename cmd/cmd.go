package cmd

import (
	"cmp"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/textmodels/textmodels/embedding"
	"github.com/textmodels/textmodels/logutil"
	"github.com/textmodels/textmodels/ml"
	"github.com/textmodels/textmodels/model/esim"
	"github.com/textmodels/textmodels/model/textcnn"
	"github.com/textmodels/textmodels/server"
	"github.com/textmodels/textmodels/version"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "textmodels",
		Short:   "ESIM entailment and CNN sentiment model pipelines",
		Version: version.Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SilenceUsage = true

			level := slog.LevelInfo
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(logutil.NewLogger(os.Stderr, level))
		},
	}

	rootCmd.PersistentFlags().String("embeddings", "", "Path to a pretrained embedding table (.txt or .bin)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	entailCmd := &cobra.Command{
		Use:   "entail PREMISE_IDS HYPOTHESIS_IDS",
		Short: "Run the ESIM pipeline on one premise/hypothesis pair",
		Long:  "Token ids are whitespace separated integers, e.g. textmodels entail \"4 9 12\" \"4 17\"",
		Args:  cobra.ExactArgs(2),
		RunE:  entailHandler,
	}
	entailCmd.Flags().Int("hidden", 64, "Hidden size of the encoders")

	sentimentCmd := &cobra.Command{
		Use:   "sentiment TOKEN_IDS",
		Short: "Run the CNN sentiment pipeline on one sequence",
		Args:  cobra.ExactArgs(1),
		RunE:  sentimentHandler,
	}
	sentimentCmd.Flags().Int("window", 3, "Token window each filter spans")
	sentimentCmd.Flags().Int("filters", 8, "Number of feature maps")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Serve both pipelines over HTTP",
		RunE:    serveHandler,
	}
	serveCmd.Flags().Int("hidden", 64, "Hidden size of the ESIM encoders")
	serveCmd.Flags().Int("window", 3, "Token window each sentiment filter spans")
	serveCmd.Flags().Int("filters", 8, "Number of sentiment feature maps")
	serveCmd.Flags().String("host", "", "Listen address (defaults to TEXTMODELS_HOST or 127.0.0.1:11500)")

	rootCmd.AddCommand(entailCmd, sentimentCmd, serveCmd)
	return rootCmd
}

func entailHandler(cmd *cobra.Command, args []string) error {
	table, err := loadTable(cmd)
	if err != nil {
		return err
	}

	premise, err := parseIDs(args[0])
	if err != nil {
		return err
	}

	hypothesis, err := parseIDs(args[1])
	if err != nil {
		return err
	}

	hidden, _ := cmd.Flags().GetInt("hidden")
	m, err := esim.New(table, esim.Options{HiddenSize: hidden})
	if err != nil {
		return err
	}

	ctx := m.Backend().NewContext()
	defer ctx.Close()

	result, err := m.Forward(ctx,
		[][]int32{premise}, []int32{int32(len(premise))},
		[][]int32{hypothesis}, []int32{int32(len(hypothesis))})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "premise -> hypothesis attention:")
	fmt.Fprintln(cmd.OutOrStdout(), ml.Dump(result.Alignment.PremiseWeights))
	fmt.Fprintln(cmd.OutOrStdout(), "hypothesis -> premise attention:")
	fmt.Fprintln(cmd.OutOrStdout(), ml.Dump(result.Alignment.HypothesisWeights))
	return nil
}

func sentimentHandler(cmd *cobra.Command, args []string) error {
	table, err := loadTable(cmd)
	if err != nil {
		return err
	}

	ids, err := parseIDs(args[0])
	if err != nil {
		return err
	}

	window, _ := cmd.Flags().GetInt("window")
	filters, _ := cmd.Flags().GetInt("filters")

	m, err := textcnn.New(table, textcnn.Options{WindowSize: window, FilterDim: filters})
	if err != nil {
		return err
	}

	ctx := m.Backend().NewContext()
	defer ctx.Close()

	result, err := m.Forward(ctx, [][]int32{ids}, []int32{int32(len(ids))})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "feature maps %v:\n", result.FeatureMaps.Shape())
	fmt.Fprintln(cmd.OutOrStdout(), ml.Dump(result.FeatureMaps))
	return nil
}

func serveHandler(cmd *cobra.Command, args []string) error {
	table, err := loadTable(cmd)
	if err != nil {
		return err
	}

	hidden, _ := cmd.Flags().GetInt("hidden")
	window, _ := cmd.Flags().GetInt("window")
	filters, _ := cmd.Flags().GetInt("filters")

	nli, err := esim.New(table, esim.Options{HiddenSize: hidden})
	if err != nil {
		return err
	}

	sentiment, err := textcnn.New(table, textcnn.Options{WindowSize: window, FilterDim: filters})
	if err != nil {
		return err
	}

	host, _ := cmd.Flags().GetString("host")
	host = cmp.Or(host, os.Getenv("TEXTMODELS_HOST"), "127.0.0.1:11500")

	ln, err := net.Listen("tcp", host)
	if err != nil {
		return err
	}

	return server.New(nli, sentiment).Serve(ln)
}

func loadTable(cmd *cobra.Command) (*embedding.Table, error) {
	path, _ := cmd.Flags().GetString("embeddings")
	if path == "" {
		return nil, fmt.Errorf("an embedding table is required, pass --embeddings")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if filepath.Ext(path) == ".bin" {
		return embedding.LoadBinary(f)
	}

	return embedding.LoadText(f)
}

func parseIDs(s string) ([]int32, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no token ids in %q", s)
	}

	ids := make([]int32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad token id %q: %w", f, err)
		}

		ids[i] = int32(v)
	}

	return ids, nil
}
