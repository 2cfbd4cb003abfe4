/*
Package config loads the single local config file an agent needs: node
UUID, control-plane URL, cluster API key, optional registry credentials.
File values are read first; LILAC_AGENT_* environment variables override
the node UUID, control-plane URL, cluster API key, heartbeat interval and
Docker host, letting container-based deployments inject the cluster API key
without writing it to disk. Registry credentials have no environment
override; they are read from the file only.
*/
package config
