package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var passwdFlags struct {
	password string
	cost     int
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Print a bcrypt hash for password_bcrypt",
	Long: `Hash a password so the config file does not have to hold it in clear text:

  santhushare passwd -p secret
  # then in ~/.santhushare.yaml:
  password_bcrypt: "$2a$10$..."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := hashPassword(passwdFlags.password, passwdFlags.cost)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), h)
		return nil
	},
}

func init() {
	passwdCmd.Flags().StringVarP(&passwdFlags.password, "password", "p", "", "password (required)")
	passwdCmd.Flags().IntVar(&passwdFlags.cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
}

func hashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("usage: santhushare passwd -p <password>")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return "", errors.Errorf("invalid cost %d (min=%d max=%d)", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", errors.Wrap(err, "bcrypt")
	}
	return string(h), nil
}
