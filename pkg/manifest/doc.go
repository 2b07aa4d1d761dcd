/*
Package manifest provisions servers and schedules from YAML files.

It backs `msm apply -f`: parse one or more YAML documents, then reconcile
each against a running daemon through the client API. Apply is
create-or-update by name, so the same file can bootstrap a fresh machine
and converge an existing one.

# Document Format

A manifest is one or more documents separated by "---". Spec keys match
the HTTP API's wire format.

Server:

	kind: Server
	metadata:
	  name: survival
	spec:
	  distro: paper
	  version: 1.21.1
	  port: 25565
	  memory: 4G
	  restart_on_crash: true

Schedule (metadata.server names the owning server):

	kind: Schedule
	metadata:
	  server: survival
	spec:
	  action: backup
	  cron: "0 4 * * *"
	  enabled: true

# Semantics

Parsing validates every document before anything is applied: kinds,
names, distros, schedule actions, cron syntax, and command payloads all
fail the file up front with the document number.

Apply walks documents in file order, so a Schedule may reference a
Server created earlier in the same file. Per document:

  - Server: created when the name is unknown; otherwise a PATCH carrying
    only the fields that differ. distro and version are immutable, so a
    manifest that disagrees with an existing server is an error.
  - Schedule: matched by action+payload on the owning server. cron and
    enabled converge on the manifest; no match creates the schedule.
    enabled defaults to true when omitted.
  - A document whose fields already match reports "unchanged" and makes
    no write at all, so re-applying a manifest is free.

Apply stops at the first failure and returns the results of the
documents that landed, which the CLI prints before the error.

# Usage

	docs, err := manifest.Load("msm.yaml")
	if err != nil {
		return err
	}
	results, err := manifest.Apply(ctx, apiClient, docs)
	for _, r := range results {
		fmt.Printf("%s %s: %s\n", r.Kind, r.Name, r.Outcome)
	}
	if err != nil {
		return err
	}

# See Also

  - pkg/client for the API the applier drives
  - pkg/types for the create/update shapes the specs mirror
  - cmd/msm for the apply subcommand
*/
package manifest
