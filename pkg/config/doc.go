// Configuration files are YAML (or JSON) documents mirroring Config:
//
//	store:
//	  backend: mongodb
//	  dsn: ${MONGO_URI}
//	  schema_file: schema.yaml
//	tree:
//	  file: tree.yaml
//	oauth:
//	  - hostname: api.example.com
//	    token_url: https://auth.example.com/token
//	    client_id: ${CLIENT_ID}
//	    client_secret: ${CLIENT_SECRET}
//	progress:
//	  sinks: [log]
//
// ${VAR} references are substituted before parsing and any scalar key can be
// overridden with RESTMIGRATE_<SECTION>_<KEY>, e.g. RESTMIGRATE_STORE_BACKEND.
package config
