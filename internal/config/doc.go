// Package config 加载 pretzeld 的 JSON 配置，并合并 YAML 网络定义与环境变量中的签名私钥。
package config
