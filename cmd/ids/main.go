package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"idsboard/internal/app"
	"idsboard/internal/config"
	"idsboard/internal/db"
	"idsboard/internal/engine"
	"idsboard/internal/migrate"
	"idsboard/internal/repo"
	"idsboard/internal/server"
	"idsboard/internal/week"
)

var rootCmd = &cobra.Command{
	Use:   "ids",
	Short: "IDS board CLI",
	Long: `ids tracks a team's weekly Headlines, Issues and Deliverables.
- Headlines: short announcements, owned by whoever posted them.
- Issues: problems to discuss; an issue can only be solved once every
  deliverable attached to it is completed.
- Todos: the deliverables view, bucketed by due date week.
- Weeks: tokens like 2025-W11; each season's week 1 starts on Dec 30
  of the previous calendar year.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("IDSBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "", "acting user id (default IDSBOARD_USER or OS username)")
	rootCmd.PersistentFlags().String("email", "", "acting user email")
	rootCmd.PersistentFlags().String("week", "", "week token, e.g. 2025-W11")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("email", rootCmd.PersistentFlags().Lookup("email"))
	_ = viper.BindPFlag("week", rootCmd.PersistentFlags().Lookup("week"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(headlineCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(todoCmd())
	rootCmd.AddCommand(myCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(feedbackCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(weekCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var teamID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default idsboard.yml in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(teamID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "team id")
	return cmd
}

func headlineCmd() *cobra.Command {
	hl := &cobra.Command{Use: "headline", Short: "Manage headlines"}
	hl.AddCommand(headlineCreateCmd())
	hl.AddCommand(headlineListCmd())
	hl.AddCommand(headlineShowCmd())
	hl.AddCommand(headlineUpdateCmd())
	hl.AddCommand(headlineStatusCmd())
	hl.AddCommand(headlineDeleteCmd())
	return hl
}

func headlineCreateCmd() *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a headline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				h, err := e.CreateHeadline(ctx, userID, title, description)
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func headlineListCmd() *cobra.Command {
	var status, createdBy string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List headlines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				items, err := e.ListHeadlines(ctx, engine.HeadlineListOptions{
					Week:      viper.GetString("week"),
					Status:    status,
					CreatedBy: createdBy,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "By", "Created"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.ID, h.Title, h.Status, h.CreatedBy, h.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, completed)")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "author filter")
	return cmd
}

func headlineShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a headline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				h, err := e.GetHeadline(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	return cmd
}

func headlineUpdateCmd() *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a headline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				var opts engine.HeadlineUpdateOptions
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				h, err := e.UpdateHeadline(ctx, userID, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func headlineStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <pending|completed>",
		Short: "Set headline status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				h, err := e.SetHeadlineStatus(ctx, userID, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	return cmd
}

func headlineDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a headline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				return e.DeleteHeadline(ctx, userID, args[0])
			})
		},
	}
	return cmd
}

func issueCmd() *cobra.Command {
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Manage issues",
		Long:  "Issues flow pending -> discussed -> solved. Solving requires at least one deliverable and all of them completed; completing the last deliverable solves the issue automatically.",
	}
	issue.AddCommand(issueCreateCmd())
	issue.AddCommand(issueListCmd())
	issue.AddCommand(issueShowCmd())
	issue.AddCommand(issueEditCmd())
	issue.AddCommand(issueStatusCmd())
	issue.AddCommand(issueDeliverableCmd())
	return issue
}

func issueCreateCmd() *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Raise an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				i, err := e.CreateIssue(ctx, userID, title, description)
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func issueListCmd() *cobra.Command {
	var status, createdBy string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues (solved hidden unless --week or --status given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				items, err := e.ListIssues(ctx, engine.IssueListOptions{
					Week:      viper.GetString("week"),
					Status:    status,
					CreatedBy: createdBy,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "By", "Created"})
				for _, i := range items {
					tw.AppendRow(table.Row{i.ID, i.Title, i.Status, i.CreatedBy, i.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, discussed, solved)")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "author filter")
	return cmd
}

func issueShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an issue and its deliverables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				detail, err := e.GetIssueDetail(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				fmt.Printf("%s [%s] by %s\n", detail.Issue.Title, detail.Issue.Status, detail.Issue.CreatedBy)
				if detail.Issue.Description != "" {
					fmt.Println(detail.Issue.Description)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Deliverable", "Status", "Accountable", "Due"})
				for _, d := range detail.Deliverables {
					tw.AppendRow(table.Row{d.ID, d.Title, d.Status, d.AccountableID, d.DueDate})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func issueEditCmd() *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit an issue's title or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				var opts engine.IssueUpdateOptions
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				i, err := e.UpdateIssue(ctx, userID, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func issueStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <pending|discussed|solved>",
		Short: "Set issue status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				i, err := e.SetIssueStatus(ctx, userID, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	return cmd
}

func issueDeliverableCmd() *cobra.Command {
	var title, description, due, accountable string
	cmd := &cobra.Command{
		Use:   "deliverable <issue-id>",
		Short: "Attach a deliverable to an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				d, err := e.CreateDeliverable(ctx, userID, engine.DeliverableCreateOptions{
					IssueID:       args[0],
					Title:         title,
					Description:   description,
					DueDate:       due,
					AccountableID: accountable,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339)")
	cmd.Flags().StringVar(&accountable, "accountable", "", "accountable user id (defaults to acting user)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func todoCmd() *cobra.Command {
	todo := &cobra.Command{Use: "todo", Short: "Manage todos (deliverables by due date)"}
	todo.AddCommand(todoCreateCmd())
	todo.AddCommand(todoListCmd())
	todo.AddCommand(todoShowCmd())
	todo.AddCommand(todoUpdateCmd())
	todo.AddCommand(todoStatusCmd())
	todo.AddCommand(todoHistoryCmd())
	return todo
}

func todoCreateCmd() *cobra.Command {
	var issueID, title, description, due, accountable string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a todo under an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				d, err := e.CreateDeliverable(ctx, userID, engine.DeliverableCreateOptions{
					IssueID:       issueID,
					Title:         title,
					Description:   description,
					DueDate:       due,
					AccountableID: accountable,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&issueID, "issue", "", "parent issue id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339)")
	cmd.Flags().StringVar(&accountable, "accountable", "", "accountable user id (defaults to acting user)")
	_ = cmd.MarkFlagRequired("issue")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func todoListCmd() *cobra.Command {
	var status, accountable string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List todos",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				items, err := e.ListTodos(ctx, engine.TodoListOptions{
					Week:          viper.GetString("week"),
					Status:        status,
					AccountableID: accountable,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Accountable", "Due"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Title, d.Status, d.AccountableID, d.DueDate})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, in_progress, completed)")
	cmd.Flags().StringVar(&accountable, "accountable", "", "accountable user filter")
	return cmd
}

func todoShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				d, err := e.GetDeliverable(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func todoUpdateCmd() *cobra.Command {
	var title, description, due, accountable string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				var opts engine.DeliverableUpdateOptions
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("due") {
					opts.DueDate = &due
				}
				if cmd.Flags().Changed("accountable") {
					opts.AccountableID = &accountable
				}
				res, err := e.UpdateDeliverable(ctx, userID, args[0], opts)
				if err != nil {
					return err
				}
				if res.HistoryErr != nil {
					fmt.Fprintf(os.Stderr, "warning: change applied but history could not be recorded: %v\n", res.HistoryErr)
				}
				return printJSONOrTable(res.Deliverable)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339)")
	cmd.Flags().StringVar(&accountable, "accountable", "", "accountable user id")
	return cmd
}

func todoStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <pending|in_progress|completed>",
		Short: "Set todo status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				res, err := e.SetDeliverableStatus(ctx, userID, args[0], args[1])
				if err != nil {
					return err
				}
				if res.HistoryErr != nil {
					fmt.Fprintf(os.Stderr, "warning: change applied but history could not be recorded: %v\n", res.HistoryErr)
				}
				if res.CascadeErr != nil {
					fmt.Fprintf(os.Stderr, "warning: issue auto-solve failed: %v\n", res.CascadeErr)
				}
				if res.IssueSolved {
					fmt.Println("issue solved: all deliverables completed")
				}
				return printJSONOrTable(res.Deliverable)
			})
		},
	}
	return cmd
}

func todoHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show a todo's change history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				items, err := e.DeliverableHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Field", "Old", "New", "By", "At"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.FieldName, h.OldValue, h.NewValue, h.UpdatedBy, h.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func myCmd() *cobra.Command {
	my := &cobra.Command{Use: "my", Short: "My weekly view"}
	my.AddCommand(myIDSCmd())
	return my
}

func myIDSCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ids",
		Short: "Show my headlines, issues and todos for the week",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				my, err := e.GetMyIDS(ctx, userID, viper.GetString("week"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(my)
				}
				fmt.Printf("Headlines (%d):\n", len(my.Headlines))
				for _, h := range my.Headlines {
					fmt.Printf("  [%s] %s\n", h.Status, h.Title)
				}
				fmt.Printf("Issues (%d):\n", len(my.Issues))
				for _, i := range my.Issues {
					fmt.Printf("  [%s] %s\n", i.Status, i.Title)
				}
				fmt.Printf("Todos (%d):\n", len(my.Todos))
				for _, d := range my.Todos {
					fmt.Printf("  [%s] %s (due %s)\n", d.Status, d.Title, d.DueDate)
				}
				return nil
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProfiles(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return user
}

func feedbackCmd() *cobra.Command {
	fb := &cobra.Command{Use: "feedback", Short: "Submit and review feedback"}
	fb.AddCommand(feedbackCreateCmd())
	fb.AddCommand(feedbackListCmd())
	fb.AddCommand(feedbackStatusCmd())
	return fb
}

func feedbackCreateCmd() *cobra.Command {
	var title, description, category, priority string
	var tags []string
	cmd := &cobra.Command{
		Use:     "submit",
		Aliases: []string{"create"},
		Short:   "Submit feedback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				f, err := e.CreateFeedback(ctx, userID, engine.FeedbackCreateOptions{
					Title:       title,
					Description: description,
					Category:    category,
					Priority:    priority,
					Tags:        tags,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&category, "category", "", "category (bug, feature, improvement, other)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, medium, high)")
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "tag (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func feedbackListCmd() *cobra.Command {
	var userFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List feedback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ string) error {
				items, err := e.ListFeedback(ctx, userFilter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Category", "Priority", "Status", "By"})
				for _, f := range items {
					tw.AppendRow(table.Row{f.ID, f.Title, f.Category, f.Priority, f.Status, f.UserID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userFilter, "user-id", "", "filter by submitter")
	return cmd
}

func feedbackStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <pending|in_review|implemented|rejected>",
		Short: "Set feedback status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				f, err := e.SetFeedbackStatus(ctx, userID, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(&cobra.Command{
		Use:   "create [name]",
		Short: "Mint an API key (plaintext shown once)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				key, plain, err := e.CreateAPIKey(ctx, userID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":         key.ID,
					"name":       key.Name,
					"created_at": key.CreatedAt,
					"key":        plain,
				})
			})
		},
	})
	ak.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List my API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				keys, err := e.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	ak.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, userID string) error {
				return e.DeleteAPIKey(ctx, userID, args[0])
			})
		},
	})
	return ak
}

func weekCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "week [token]",
		Short: "Show the current week token, or the date range of a token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := week.Current(time.Now()).String()
			if len(args) == 1 {
				token = args[0]
			}
			start, end, err := week.RangeOf(token)
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]string{
				"week":  token,
				"start": start.Format(time.RFC3339),
				"end":   end.Format(time.RFC3339),
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:            os.Getenv("IDSBOARD_JWT_SECRET"),
				AllowDevLogin:        cfg.Auth.AllowDevLogin,
				AllowLegacyUserIDHdr: cfg.Auth.AllowUserIDHdr,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Auth.JWTSecret
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("IDSBOARD_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving IDS board API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	userID, err := app.ResolveUser(ctx, viper.GetString("user"), viper.GetString("email"), r)
	if err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e, userID)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
