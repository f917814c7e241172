package permissions

// Feature is a part of cloudtail that needs provider permissions.
type Feature string

const (
	Ingest Feature = "ingest"
	Export Feature = "export"
)

// awsCatalog maps features to the IAM actions they call.
var awsCatalog = map[Feature][]string{
	Ingest: {
		"cloudtrail:LookupEvents",
		"sts:GetCallerIdentity",
	},
	// Only needed when --output-dir is an s3:// location.
	Export: {
		"s3:GetObject",
		"s3:PutObject",
		"s3:ListBucket",
	},
}

// azureCatalog maps features to Azure RBAC actions.
var azureCatalog = map[Feature][]string{
	Ingest: {
		"Microsoft.Insights/eventtypes/values/read",
		"Microsoft.Resources/subscriptions/read",
	},
}

// Features lists every known feature.
func Features() []Feature {
	return []Feature{Ingest, Export}
}
