package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jhoicas/nfe-emissor/internal/application/dto"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

var (
	statusUF     string
	pendingLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Estado del autorizador de la UF",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, c, err := loadComponents(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()
		st, err := c.Orchestrator.Status(cmd.Context(), statusUF)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <chave>",
	Short: "Consultar la situación de una NF-e por clave",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, err := loadComponents(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()
		st, err := c.Orchestrator.Query(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <chave>",
	Short: "Historial de resultados registrados para la clave",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, err := loadComponents(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()
		key := pkgnfe.OnlyDigits(args[0])
		list, err := c.Orchestrator.History(cmd.Context(), key)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), dto.FromHistory(key, list))
	},
}

var pendingCmd = &cobra.Command{
	Use:   "resolve-pending",
	Short: "Volver a consultar las NF-e que quedaron en TIMED_OUT",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, c, err := loadComponents(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()
		n, err := c.Orchestrator.ResolvePending(cmd.Context(), pendingLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]int{"resolved": n})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, queryCmd, historyCmd, pendingCmd)
	statusCmd.Flags().StringVar(&statusUF, "uf", "", "UF del autorizador (por defecto NFE_UF)")
	pendingCmd.Flags().IntVar(&pendingLimit, "limit", 50, "máximo de claves a consultar")
}
