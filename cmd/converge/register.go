package main

import (
	"github.com/convergetool/converge/internal/awsapi"
	"github.com/convergetool/converge/internal/plugin"
	eventmappingplugin "github.com/convergetool/converge/internal/plugins/eventmapping"
	lambdaaliasplugin "github.com/convergetool/converge/internal/plugins/lambdaalias"
	lambdafunctionplugin "github.com/convergetool/converge/internal/plugins/lambdafunction"
	lambdapackageplugin "github.com/convergetool/converge/internal/plugins/lambdapackage"
	lambdapolicyplugin "github.com/convergetool/converge/internal/plugins/lambdapolicy"
	sqsqueueplugin "github.com/convergetool/converge/internal/plugins/sqsqueue"
)

// registerPlugins wires every step type to its reconciler.
func registerPlugins(registry *plugin.Registry, clients *awsapi.Clients) error {
	plugins := map[string]plugin.Plugin{
		"sqs_queue":       sqsqueueplugin.New(clients.SQS),
		"lambda_function": lambdafunctionplugin.New(clients.Lambda, clients.STS),
		"lambda_alias":    lambdaaliasplugin.New(clients.Lambda, clients.STS, clients.Region),
		"sqs_event":       eventmappingplugin.New(clients.Lambda),
		"lambda_policy":   lambdapolicyplugin.New(clients.Lambda, clients.STS, clients.Region),
		"lambda_package":  lambdapackageplugin.New(),
	}

	for stepType, p := range plugins {
		if err := registry.Register(stepType, p); err != nil {
			return err
		}
	}
	return nil
}
