// Package deploy drives the cluster deployment tool (kadeploy3).
//
// A Request names the hosts and the environment to install. The Deployer
// partitions the hosts by site from their names, runs one deployment
// command per site in parallel (on the site frontend through ssh, or on
// this machine for the local site when configured), parses the tool's
// report of correctly and incorrectly deployed nodes, and folds everything
// into a Result.
//
// Failures of the deployment itself are data: a Result lists the hosts in
// error and flags reports that do not partition the request. Only host
// names that belong to no site fail early, before anything runs.
package deploy
