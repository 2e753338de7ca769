package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/spf13/cobra"

	"github.com/jhoicas/nfe-emissor/internal/clock"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/nfe-emissor/pkg/config"
	pkgjwt "github.com/jhoicas/nfe-emissor/pkg/jwt"
	pkgnfe "github.com/jhoicas/nfe-emissor/pkg/nfe"
)

var (
	verifyID string
	verifyAt string

	certPassword string
	certAt       string

	tokenSubject string
	tokenCNPJ    string
	tokenRole    string
	tokenExp     int
)

var verifyCmd = &cobra.Command{
	Use:   "verify <archivo.xml>",
	Short: "Verificar la firma XMLDSig de una NF-e o de un evento",
	Long: `Valida la firma contra el certificado incluido en KeyInfo. Sin --id se usa el
primer infNFe o infEvento del archivo. No valida la cadena ICP-Brasil.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

var chaveCmd = &cobra.Command{
	Use:   "chave <clave>",
	Short: "Validar y descomponer una clave de acceso",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := pkgnfe.OnlyDigits(args[0])
		parts, err := pkgnfe.ParseAccessKey(key)
		if err != nil {
			return err
		}
		uf, _ := pkgnfe.UFFromCode(parts.UFCode)
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"chave":  key,
			"uf":     uf,
			"cuf":    parts.UFCode,
			"aamm":   parts.YearMonth,
			"cnpj":   parts.CNPJ,
			"modelo": parts.Model,
			"serie":  parts.Series,
			"numero": parts.Number,
			"tpEmis": parts.EmissionType,
			"cNF":    parts.NumericCode,
			"cDV":    key[pkgnfe.AccessKeyLength-1:],
		})
	},
}

var certCmd = &cobra.Command{
	Use:   "cert <archivo.p12>",
	Short: "Leer un certificado A1 y mostrar titular y vigencia",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseAt(certAt)
		if err != nil {
			return err
		}
		var c clock.Clock = clock.System{}
		if !at.IsZero() {
			c = clock.NewFakeClock(at)
		}
		id, err := signer.NewLoader(c).LoadFile(args[0], certPassword)
		if err != nil {
			return err
		}
		leaf := id.Leaf
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"subject":    leaf.Subject.CommonName,
			"issuer":     leaf.Issuer.CommonName,
			"serial":     leaf.SerialNumber.String(),
			"not_before": leaf.NotBefore,
			"not_after":  leaf.NotAfter,
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generar un JWT para la API (usa JWT_SECRET)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		exp := tokenExp
		if exp <= 0 {
			exp = cfg.JWT.Expiration
		}
		tok, err := pkgjwt.Generate(cfg.JWT.Secret, tokenSubject, pkgnfe.OnlyDigits(tokenCNPJ), tokenRole, cfg.JWT.Issuer, exp)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
		return err
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd, chaveCmd, certCmd, tokenCmd)

	verifyCmd.Flags().StringVar(&verifyID, "id", "", "Id del elemento firmado (NFe<chave> o ID110111<chave><seq>)")
	verifyCmd.Flags().StringVar(&verifyAt, "at", "", "evaluar la vigencia del certificado en esta fecha (RFC3339)")

	certCmd.Flags().StringVar(&certPassword, "password", "", "contraseña del .p12")
	certCmd.Flags().StringVar(&certAt, "at", "", "evaluar la vigencia en esta fecha (RFC3339)")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "identificación del integrador")
	tokenCmd.Flags().StringVar(&tokenCNPJ, "cnpj", "", "CNPJ habilitado (vacío habilita cualquiera)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", pkgjwt.RoleEmissor, "emissor | consulta")
	tokenCmd.Flags().IntVar(&tokenExp, "exp", 0, "minutos de validez (por defecto JWT_EXPIRATION_MINUTES)")
	_ = tokenCmd.MarkFlagRequired("subject")
}

func runVerify(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	at, err := parseAt(verifyAt)
	if err != nil {
		return err
	}
	id := verifyID
	if id == "" {
		if id, err = signedID(raw); err != nil {
			return err
		}
	}
	cert, err := signer.Verify(raw, id, at)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"id":        id,
		"valid":     true,
		"subject":   cert.Subject.CommonName,
		"not_after": cert.NotAfter,
	})
}

// signedID primer infNFe o infEvento con atributo Id.
func signedID(raw []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return "", fmt.Errorf("parsear XML: %w", err)
	}
	for _, path := range []string{"//infNFe[@Id]", "//infEvento[@Id]"} {
		if el := doc.FindElement(path); el != nil {
			if id := strings.TrimSpace(el.SelectAttrValue("Id", "")); id != "" {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("no se encontró infNFe ni infEvento con Id")
}

func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at: %w", err)
	}
	return t, nil
}
