// Comando certcheck: diagnostica el certificado de cliente configurado para la
// AEAT sin arrancar el servidor. Uso: go run ./cmd/certcheck
package main

import (
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/n1ngu/sii/internal/infrastructure/aeat"
	"github.com/n1ngu/sii/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ configuración: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("🔍 DIAGNÓSTICO DE CERTIFICADO AEAT")
	fmt.Println("----------------------------------")
	if cfg.SII.CertPath == "" {
		fmt.Println("❌ SII_CERT_PATH vacío: no hay certificado configurado")
		os.Exit(1)
	}
	fmt.Printf("📂 Certificado: %s\n", cfg.SII.CertPath)

	cert, err := aeat.LoadCertificate(cfg.SII.CertPath, cfg.SII.CertKeyPath, cfg.SII.CertPassword)
	if err != nil {
		fmt.Printf("❌ No se pudo cargar: %v\n", err)
		os.Exit(1)
	}

	leaf := cert.Leaf
	if leaf == nil {
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			fmt.Printf("❌ Certificado ilegible: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("✅ Titular:   %s\n", leaf.Subject.String())
	fmt.Printf("   Emisor:    %s\n", leaf.Issuer.String())
	fmt.Printf("   Serie:     %s\n", leaf.SerialNumber.String())
	fmt.Printf("   Caduca:    %s\n", leaf.NotAfter.Format(time.RFC3339))

	remaining := time.Until(leaf.NotAfter)
	switch {
	case remaining <= 0:
		fmt.Println("❌ El certificado está caducado")
		os.Exit(1)
	case remaining < 30*24*time.Hour:
		fmt.Printf("⚠️  Caduca en %d días\n", int(remaining.Hours()/24))
	}

	baseURL, err := aeat.BaseURL(cfg.SII.Env, cfg.SII.BaseURL)
	if err != nil {
		fmt.Printf("❌ Entorno SII: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("🌐 Entorno %s: %s\n", cfg.SII.Env, baseURL)
}
