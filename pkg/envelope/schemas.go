package envelope

// Draft 2020-12 schemas for the shapes crossing the orchestration boundary.
// Compiled once by NewValidator.

const commandEnvelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["orgId", "commandType"],
  "properties": {
    "orgId": {"type": "string", "minLength": 1},
    "sessionId": {"type": "string"},
    "commandType": {"type": "string", "minLength": 1},
    "payload": {},
    "priority": {"type": "integer", "minimum": 1, "maximum": 1000},
    "scheduledFor": {"type": "string", "format": "date-time"},
    "targetRole": {"enum": ["director", "safety", "domain"]}
  },
  "additionalProperties": false
}`

const connectorRegistrationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["orgId", "type", "name"],
  "properties": {
    "id": {"type": "string"},
    "orgId": {"type": "string", "minLength": 1},
    "type": {"enum": ["erp", "tax", "accounting", "compliance", "analytics"]},
    "name": {"type": "string", "minLength": 1},
    "config": {"type": "object"},
    "status": {"enum": ["inactive", "pending", "active", "error"]},
    "metadata": {"type": "object"},
    "createdAt": {"type": "string"},
    "updatedAt": {"type": "string"}
  },
  "additionalProperties": false
}`

const jobClaimSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["workerRole"],
  "properties": {
    "workerRole": {"enum": ["director", "safety", "domain"]},
    "workerId": {"type": "string"}
  },
  "additionalProperties": false
}`

const jobResultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"enum": ["completed", "failed", "cancelled"]},
    "result": {},
    "error": {"type": "string"},
    "metadata": {"type": "object"}
  },
  "additionalProperties": false
}`
