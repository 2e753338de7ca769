package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jhoicas/nfe-emissor/internal/bootstrap"
	"github.com/jhoicas/nfe-emissor/pkg/config"
	"github.com/jhoicas/nfe-emissor/pkg/logger"
)

var (
	version = "1.0.0"

	// Global flags
	verbose bool
	noDB    bool
)

var rootCmd = &cobra.Command{
	Use:   "nfe",
	Short: "Emisión de NF-e modelo 55 ante la SEFAZ",
	Long: `nfe arma, firma y envía NF-e usando la misma configuración que la API
(variables NFE_*, DB_*, JWT_* o archivo .env).

Ejemplos:
  # Emitir a partir de un borrador JSON
  nfe authorize borrador.json -o nfe-proc.xml

  # Consultar una NF-e que quedó sin resultado definitivo
  nfe query 35261012345678000195550010000000011123456780

  # Cancelar
  nfe cancel --key <chave> --protocol <nProt> --justification "Erro na digitação"

  # Verificar la firma de un XML
  nfe verify nfe-proc.xml`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute ejecuta la CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "logs de depuración en stderr")
	rootCmd.PersistentFlags().BoolVar(&noDB, "no-db", false, "no registrar resultados en la base aunque esté configurada")
}

// loadComponents lee la configuración y arma el orquestador.
func loadComponents(ctx context.Context) (*config.Config, *bootstrap.Components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	log := logger.New(logger.Config{Env: "development", Level: level, Output: os.Stderr})

	var opts []bootstrap.Option
	if noDB {
		opts = append(opts, bootstrap.WithoutDatabase())
	}
	c, err := bootstrap.New(ctx, cfg, log, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, c, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
