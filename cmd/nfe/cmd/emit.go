package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jhoicas/nfe-emissor/internal/application/dto"
	"github.com/jhoicas/nfe-emissor/internal/domain/nfe"
)

var (
	outputFile string

	cancelKey           string
	cancelProtocol      string
	cancelJustification string
	cancelSequence      int
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize <borrador.json>",
	Short: "Emitir una NF-e a partir de un borrador JSON",
	Long: `Emite la NF-e y muestra el resultado. Con -o guarda el nfeProc autorizado.

Un resultado TIMED_OUT no es un rechazo: consultar con "nfe query <chave>" antes de reintentar.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthorize,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancelar una NF-e autorizada",
	Args:  cobra.NoArgs,
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(authorizeCmd, cancelCmd)

	authorizeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "archivo donde guardar el nfeProc")

	cancelCmd.Flags().StringVar(&cancelKey, "key", "", "clave de acceso (44 dígitos)")
	cancelCmd.Flags().StringVar(&cancelProtocol, "protocol", "", "protocolo de autorización (15 dígitos)")
	cancelCmd.Flags().StringVar(&cancelJustification, "justification", "", "motivo, 15 a 255 caracteres")
	cancelCmd.Flags().IntVar(&cancelSequence, "seq", 1, "nSeqEvento")
	_ = cancelCmd.MarkFlagRequired("key")
	_ = cancelCmd.MarkFlagRequired("protocol")
	_ = cancelCmd.MarkFlagRequired("justification")
}

func readDraft(path string) (nfe.InvoiceDraft, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nfe.InvoiceDraft{}, err
	}
	var draft nfe.InvoiceDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return nfe.InvoiceDraft{}, fmt.Errorf("borrador %s: %w", path, err)
	}
	return draft, nil
}

func runAuthorize(cmd *cobra.Command, args []string) error {
	draft, err := readDraft(args[0])
	if err != nil {
		return err
	}
	_, c, err := loadComponents(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	out := c.Orchestrator.Authorize(cmd.Context(), draft)
	if outputFile != "" && out.Status == nfe.OutcomeAuthorized {
		if err := os.WriteFile(outputFile, out.SignedXML, 0o644); err != nil {
			return err
		}
	}
	resp := dto.FromAuthorization(out)
	if outputFile != "" {
		resp.XML = ""
	}
	if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	if out.Status != nfe.OutcomeAuthorized {
		return fmt.Errorf("NF-e no autorizada: %s", out.Status)
	}
	return nil
}

func runCancel(cmd *cobra.Command, _ []string) error {
	_, c, err := loadComponents(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	out := c.Orchestrator.Cancel(cmd.Context(), nfe.CancellationEvent{
		AccessKey:     cancelKey,
		Protocol:      cancelProtocol,
		Justification: cancelJustification,
		Sequence:      cancelSequence,
	})
	if err := printJSON(cmd.OutOrStdout(), dto.FromCancellation(out)); err != nil {
		return err
	}
	if out.Status != nfe.OutcomeCancelled {
		return fmt.Errorf("cancelación no registrada: %s", out.Status)
	}
	return nil
}
