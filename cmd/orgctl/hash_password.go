package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orgstore/orgstore/internal/auth"
)

// HashPasswordOptions configures the hash-password command
type HashPasswordOptions struct {
	Cost int
}

func NewHashPasswordCommand() *cobra.Command {
	opts := &HashPasswordOptions{}

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print the bcrypt hash of a password read from stdin",
		Long: `Read one line from stdin and print its bcrypt hash, for seeding or
repairing admin_password_hash by hand. The password is never echoed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.Run(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&opts.Cost, "cost", 12, "bcrypt cost")

	return cmd
}

func (o *HashPasswordOptions) Run(in io.Reader, out io.Writer) error {
	hasher, err := auth.NewPasswordHasher(o.Cost)
	if err != nil {
		return err
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("password is empty")
	}

	hash, err := hasher.Hash(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}
