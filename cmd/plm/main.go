package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bitfantasy/nimo-change/internal/config"
	"github.com/bitfantasy/nimo-change/internal/database"
	"github.com/bitfantasy/nimo-change/internal/logging"
	"github.com/bitfantasy/nimo-change/internal/plm/authz"
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
	"github.com/bitfantasy/nimo-change/internal/plm/service"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

var configFile string

// 命令行操作使用的系统身份
var systemCaller = authz.Caller{UserID: "system", Permissions: []string{authz.PermAll}}

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	rootCmd := &cobra.Command{
		Use:          "plm",
		Short:        "nimo change request and part revision service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file")

	rootCmd.AddCommand(
		serveCommand(),
		migrateCommand(),
		familyCommand(),
		userCommand(),
		versionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app 各子命令共享的启动结果
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
}

func bootstrap() (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	return &app{cfg: cfg, logger: logger, db: db}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	_ = a.logger.Sync()
}

// services 命令行用的服务集合，不发布事件也不注册指标
func (a *app) services() *service.Services {
	return service.NewServices(repository.NewRepositories(a.db), service.ServiceConfig{
		PLM:    a.cfg.PLM,
		Logger: a.logger,
	})
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			if err := database.Migrate(a.db, a.logger); err != nil {
				return err
			}
			a.logger.Info("Database migrated", zap.String("driver", a.cfg.Database.Driver))
			return nil
		},
	}
}

func familyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "family",
		Short: "Manage part families",
	}

	var code, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a part family",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			family, err := a.services().Part.CreateFamily(ctx, systemCaller, service.CreateFamilyInput{Code: code, Name: name})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "family %s created: %s\n", family.Code, family.ID)
			return nil
		},
	}
	create.Flags().StringVar(&code, "code", "", "family code, e.g. BRK")
	create.Flags().StringVar(&name, "name", "", "family name")
	_ = create.MarkFlagRequired("code")
	_ = create.MarkFlagRequired("name")

	cmd.AddCommand(create)
	return cmd
}

func userCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users that can be assigned as reviewers",
	}

	var id, name, email string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create or update a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			user, err := a.services().User.Sync(ctx, id, name, email)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s saved: %s\n", user.ID, user.Name)
			return nil
		},
	}
	create.Flags().StringVar(&id, "id", "", "user id, matches the uid claim of the JWT")
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&email, "email", "", "email")
	_ = create.MarkFlagRequired("id")

	cmd.AddCommand(create)
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (built %s)\n", Version, BuildTime)
		},
	}
}
