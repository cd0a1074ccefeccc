// Command example-integration is a minimal integration built on the
// framework. It declares two dependent steps that collect a fake account
// and its users, and serves as a template for real provider integrations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/JupiterOne/integration-sdk/cli"
	"github.com/JupiterOne/integration-sdk/config"
	"github.com/JupiterOne/integration-sdk/execution"
	"github.com/JupiterOne/integration-sdk/graphobject"
	"github.com/JupiterOne/integration-sdk/scheduler"
)

func invocationConfig() execution.InvocationConfig {
	return execution.InvocationConfig{
		InstanceConfigFields: config.InstanceConfigFields{
			"apiKey":       {Type: config.FieldTypeString, Mask: true},
			"userPageSize": {Type: config.FieldTypeNumber, Optional: true},
		},
		IntegrationSteps: scheduler.Steps{
			{
				ID:      "fetch-account",
				Name:    "Fetch Account",
				Types:   []string{"example_account"},
				Handler: fetchAccount,
			},
			{
				ID:        "fetch-users",
				Name:      "Fetch Users",
				Types:     []string{"example_user", "example_account_has_user"},
				DependsOn: []string{"fetch-account"},
				Handler:   fetchUsers,
			},
		},
	}
}

func fetchAccount(ctx context.Context, execCtx *scheduler.ExecutionContext) error {
	account, err := graphobject.CreateIntegrationEntity(graphobject.IntegrationEntityInput{
		Assign: graphobject.EntityAssign{
			Class: "Account",
			Type:  "example_account",
		},
		Source: map[string]any{
			"id":     execCtx.Instance.ID,
			"name":   "Example Account",
			"status": "Active",
		},
	})
	if err != nil {
		return err
	}
	return execCtx.JobState.AddEntities(ctx, []*graphobject.Entity{account})
}

func fetchUsers(ctx context.Context, execCtx *scheduler.ExecutionContext) error {
	var entities []*graphobject.Entity
	var relationships []*graphobject.Relationship

	for i := 0; i < 3; i++ {
		user, err := graphobject.CreateIntegrationEntity(graphobject.IntegrationEntityInput{
			Assign: graphobject.EntityAssign{
				Class: "User",
				Type:  "example_user",
			},
			Source: map[string]any{
				"id":   fmt.Sprintf("user-%d", i),
				"name": fmt.Sprintf("User %d", i),
			},
		})
		if err != nil {
			return err
		}
		entities = append(entities, user)

		relationships = append(relationships, &graphobject.Relationship{
			Key:   fmt.Sprintf("%s|has|%s", execCtx.Instance.ID, user.Key),
			Type:  "example_account_has_user",
			Class: "HAS",
			Properties: map[string]any{
				"_fromEntityKey": execCtx.Instance.ID,
				"_toEntityKey":   user.Key,
			},
		})
	}

	if err := execCtx.JobState.AddEntities(ctx, entities); err != nil {
		return err
	}
	return execCtx.JobState.AddRelationships(ctx, relationships)
}

func main() {
	if err := cli.NewCommand(invocationConfig()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
