// Package reconcile converges a host set to "deployed" by alternating
// deployments and optional probes.
//
// Each iteration deploys the hosts still undeployed, then either probes
// them with a check command or trusts the deployment tool's report. The
// loop stops when the sufficiency predicate holds or the try budget is
// spent. Hosts left undeployed are part of the Report, never an error.
package reconcile
