// This is the main-driver for our compiler.

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	easy "github.com/t-tomalak/logrus-easy-formatter"
	"github.com/spf13/cobra"

	"github.com/minic/cc7/codegen"
	"github.com/minic/cc7/parser"
)

var version = "dev"

var log = logrus.New()

var verbose bool

var command = &cobra.Command{
	Use:     "cc7 <source>",
	Short:   "Compile a miniC program to x86-64 Intel-syntax assembly.",
	Version: version,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("Expected arguments count is 2, got %d", len(args)+1)
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}

		source := args[0]

		log.Debug("tokenizing and parsing source")
		program, err := parser.Parse(source)
		if err != nil {
			return err
		}

		log.Debug("generating assembly")
		if err := codegen.Generate(cmd.OutOrStdout(), program); err != nil {
			return err
		}

		return nil
	},
}

func init() {
	log.SetFormatter(&easy.Formatter{
		TimestampFormat: "15:04:05",
		LogFormat:       "[%lvl%] %msg%\n",
	})
	command.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log compiler phases to stderr")
}

func main() {
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
