package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	baseURL string
	timeout time.Duration
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Клиент HTTP API ассистента EVA",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "http://localhost:3000", "адрес HTTP API")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 90*time.Second, "таймаут одного запроса")

	rootCmd.AddCommand(newSaludoCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newOlvidarCmd())
	return rootCmd
}

func newSaludoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "saludo",
		Short: "Показать приветствие ассистента",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Saludo string `json:"saludo"`
			}
			if err := newAPIClient(baseURL, timeout).get(cmd.Context(), "/saludo", &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Saludo)
			return nil
		},
	}
}

func newChatCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "chat <mensaje>",
		Short: "Отправить сообщение в чат",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				// Без --id каждый вызов — новый собеседник
				id = "cli-" + uuid.NewString()[:8]
				fmt.Fprintf(cmd.ErrOrStderr(), "id: %s\n", id)
			}
			var out struct {
				Respuesta string `json:"respuesta"`
			}
			body := map[string]string{
				"id":      id,
				"nombre":  name,
				"mensaje": strings.Join(args, " "),
			}
			if err := newAPIClient(baseURL, timeout).post(cmd.Context(), "/chat", body, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Respuesta)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "id диалога (буквы, цифры, '_' и '-')")
	cmd.Flags().StringVar(&name, "nombre", "Operador", "имя пользователя")
	return cmd
}

func newOlvidarCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "olvidar",
		Short: "Удалить историю диалога",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Mensaje string `json:"mensaje"`
			}
			if err := newAPIClient(baseURL, timeout).post(cmd.Context(), "/eliminarMemoria", map[string]string{"id": id}, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Mensaje)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "id диалога")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
